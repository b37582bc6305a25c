/**
 * Shared HTTP plumbing for the remote collaborators.
 *
 * Both services take the page file as multipart/form-data under the "file"
 * field and answer with JSON. Transport errors and 5xx responses are
 * retried with exponential backoff; 4xx responses are final.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 10 * time.Second
	maxErrorBodyBytes = 512
)

// Options configures a remote collaborator client
type Options struct {
	BaseURL    string
	APIKey     string        // Sent as X-API-Key when set
	Timeout    time.Duration // Per request
	MaxRetries uint          // Attempts = MaxRetries + 1
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// StatusError is a non-2xx response from a remote service
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

type multipartClient struct {
	service    string
	baseURL    string
	apiKey     string
	attempts   uint
	retryDelay time.Duration
	httpClient *http.Client
	logger     *logging.Logger
}

func newMultipartClient(service string, opts Options) (*multipartClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s base URL is required", service)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	return &multipartClient{
		service:    service,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		attempts:   opts.MaxRetries + 1,
		retryDelay: retryDelay,
		httpClient: httpClient,
		logger:     logging.NewLogger(service),
	}, nil
}

// postFile uploads the file at path to endpoint and decodes the JSON
// response into out
func (c *multipartClient) postFile(ctx context.Context, endpoint, path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	filename := filepath.Base(path)
	url := c.baseURL + endpoint

	var body []byte
	err = retry.Do(
		func() error {
			b, err := c.send(ctx, url, filename, data)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Request failed, retrying", "url", url, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", c.service, err)
	}
	return nil
}

func (c *multipartClient) send(ctx context.Context, url, filename string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to build form: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to build form: %w", err))
	}
	if err := writer.Close(); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to build form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Source", "docanalysis-worker")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Service: c.service, StatusCode: resp.StatusCode, Body: truncate(body)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, retry.Unrecoverable(statusErr)
	}

	return body, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes]) + "..."
	}
	return string(body)
}
