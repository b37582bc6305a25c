/**
 * Analysis job payload and execution shared by both queue backends.
 *
 * A job runs ProcessDocument under a per-job timeout and reports status
 * transitions (processing -> completed | rejected | failed) through the
 * processor so they land in PostgreSQL.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
	"github.com/adverant/nexus/docanalysis-worker/internal/processor"
)

const (
	// TaskTypeAnalyzeDocument is the asynq task type and the Redis job type
	TaskTypeAnalyzeDocument = "analyze-document"

	DefaultQueueName         = "docanalysis:jobs"
	DefaultConcurrency       = 4
	DefaultMaxRetries        = 3
	DefaultProcessingTimeout = 5 * time.Minute
)

// Job statuses written to Redis and PostgreSQL
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
	StatusFailed     = "failed"
)

// JobPayload is the analysis request carried by a queued job
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId,omitempty"`
	Filename   string                 `json:"filename"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileSize   int64                  `json:"fileSize,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"fileBuffer,omitempty"`
	TopN       int                    `json:"topN,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts fileBuffer either as a base64 string or as a
// Node.js Buffer object ({"type":"Buffer","data":[...]}) from producers
// that serialize buffers that way
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded
	case map[string]interface{}:
		if kind, _ := v["type"].(string); kind != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		values, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(values))
		for i, val := range values {
			b, ok := val.(float64)
			if !ok || b < 0 || b > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(b)
		}
	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the fields every job needs
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if p.FileURL == "" && len(p.FileBuffer) == 0 {
		return fmt.Errorf("job %s has neither fileUrl nor fileBuffer", p.JobID)
	}
	return nil
}

// Request converts the payload into a processor request
func (p *JobPayload) Request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		UserID:     p.UserID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileSize:   p.FileSize,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		TopN:       p.TopN,
		Metadata:   p.Metadata,
	}
}

// jobRunner executes payloads against the processor
type jobRunner struct {
	processor processor.DocumentProcessorInterface
	timeout   time.Duration
	logger    *logging.Logger
}

func newJobRunner(proc processor.DocumentProcessorInterface, timeout time.Duration, logger *logging.Logger) *jobRunner {
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	return &jobRunner{processor: proc, timeout: timeout, logger: logger}
}

// execute marks the job processing and runs it under the job timeout.
// Timeouts come back as PROCESSING_TIMEOUT errors.
func (r *jobRunner) execute(ctx context.Context, payload *JobPayload) (*processor.ProcessResult, time.Duration, error) {
	start := time.Now()

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, StatusProcessing, 0, map[string]interface{}{
		"filename": payload.Filename,
		"mimeType": payload.MimeType,
		"fileSize": payload.FileSize,
		"userId":   payload.UserID,
	}); err != nil {
		r.logger.Warn("Failed to update status to processing", "job_id", payload.JobID, "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("Processing job",
		"job_id", payload.JobID,
		"filename", payload.Filename,
		"size", payload.FileSize,
		"timeout", r.timeout.String())

	result, err := r.processor.ProcessDocument(processCtx, payload.Request())
	duration := time.Since(start)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			r.logger.Error("Job timed out", "job_id", payload.JobID, "duration", duration.String())
			return nil, duration, errors.NewProcessingTimeoutError(payload.JobID, r.timeout, err)
		}
		return nil, duration, err
	}

	return result, duration, nil
}

// complete records a finished job; rejections are finished jobs too
func (r *jobRunner) complete(ctx context.Context, payload *JobPayload, result *processor.ProcessResult) string {
	status := StatusCompleted
	if result.Status == models.OutcomeRejected {
		status = StatusRejected
	}

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, status, 100, resultMetadata(result)); err != nil {
		r.logger.Warn("Failed to update status", "job_id", payload.JobID, "status", status, "error", err)
	}

	r.logger.Info("Job finished",
		"job_id", payload.JobID,
		"status", status,
		"category", result.Category,
		"paragraphs", result.ParagraphCount,
		"total_words", result.TotalWords,
		"compliant", result.IsCompliant,
		"processing_time_ms", result.ProcessingTimeMs)

	return status
}

// fail records a job that will not be retried
func (r *jobRunner) fail(ctx context.Context, payload *JobPayload, err error, duration time.Duration, attempts int) map[string]interface{} {
	metadata := failureMetadata(err, duration)
	metadata["attempts"] = attempts

	if updateErr := r.processor.UpdateJobStatus(ctx, payload.JobID, StatusFailed, 100, metadata); updateErr != nil {
		r.logger.Warn("Failed to update status to failed", "job_id", payload.JobID, "error", updateErr)
	}

	r.logger.Error("Job failed",
		"job_id", payload.JobID,
		"attempts", attempts,
		"error_code", metadata["errorCode"],
		"error", err)

	return metadata
}

// retryable reports whether running the job again could succeed. Input and
// template problems are permanent.
func retryable(err error) bool {
	code, ok := errors.CodeOf(err)
	if !ok {
		return true
	}
	switch code {
	case errors.ErrorValidationFailed, errors.ErrorTemplateFailed:
		return false
	}
	return true
}

func resultMetadata(result *processor.ProcessResult) map[string]interface{} {
	return map[string]interface{}{
		"documentId":     result.DocumentID,
		"confidence":     result.ClassificationConfidence,
		"processingTime": result.ProcessingTimeMs,
		"category":       result.Category,
		"paragraphCount": result.ParagraphCount,
		"totalWords":     result.TotalWords,
		"isCompliant":    result.IsCompliant,
	}
}

func failureMetadata(err error, duration time.Duration) map[string]interface{} {
	metadata := map[string]interface{}{
		"error":          err.Error(),
		"processingTime": duration.Milliseconds(),
	}
	if code, ok := errors.CodeOf(err); ok {
		metadata["errorCode"] = string(code)
	}
	if stage := errors.StageOf(err); stage != "" {
		metadata["stage"] = stage
	}
	return metadata
}
