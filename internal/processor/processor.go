/**
 * Document Processor for the Document Analysis Worker
 *
 * Queue-facing entry point. For each job it:
 * - loads the file from the job buffer or downloads it from a URL
 * - detects the real MIME type from magic bytes
 * - stages the file on disk and runs the analysis pipeline on it
 * - persists the outcome (full analysis or rejection)
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
	"github.com/adverant/nexus/docanalysis-worker/internal/storage"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Orchestrator     *Orchestrator
	Store            ResultStore
	TempDir          string
	MaxFileSize      int64
	DownloadTimeout  time.Duration
	DownloadAttempts uint
	DownloadDelay    time.Duration
	HTTPClient       *http.Client
	Notes            string
}

// ProcessRequest represents a document analysis request
type ProcessRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	TopN       int
	Metadata   map[string]interface{}
}

// ProcessResult summarizes a finished job
type ProcessResult struct {
	DocumentID               string
	Status                   models.OutcomeStatus
	Category                 string
	ClassificationConfidence float64
	ParagraphCount           int
	TotalWords               int
	IsCompliant              bool
	ProcessingTimeMs         int64
}

// Supported input formats for the pipeline
var supportedMimeTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/tiff":      ".tiff",
	"image/bmp":       ".bmp",
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config       *ProcessorConfig
	orchestrator *Orchestrator
	store        ResultStore
	httpClient   *http.Client
	logger       *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", cfg.TempDir, err)
	}

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if cfg.DownloadAttempts == 0 {
		cfg.DownloadAttempts = 3
	}
	if cfg.DownloadDelay <= 0 {
		cfg.DownloadDelay = time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.DownloadTimeout}
	}

	return &DocumentProcessor{
		config:       cfg,
		orchestrator: cfg.Orchestrator,
		store:        cfg.Store,
		httpClient:   httpClient,
		logger:       logging.NewLogger("DocumentProcessor"),
	}, nil
}

// ProcessDocument runs one job through the analysis pipeline and stores the outcome
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	if req == nil || req.JobID == "" {
		return nil, errors.NewValidationError(string(StageInit), "job ID is required")
	}

	log := p.logger.With("job_id", req.JobID)
	log.Info("Starting document analysis", "filename", req.Filename, "file_size", req.FileSize)

	// Step 1: Download/load file
	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 2: Detect actual MIME type from magic bytes
	detectedMime := detectMimeTypeFromMagicBytes(fileData)
	if detectedMime != "" && (req.MimeType == "" || req.MimeType == "application/octet-stream") {
		log.Info("Corrected MIME type from magic bytes", "declared", req.MimeType, "detected", detectedMime)
		req.MimeType = detectedMime
	}

	ext, ok := supportedMimeTypes[req.MimeType]
	if !ok {
		return nil, errors.NewValidationError(string(StageInit),
			fmt.Sprintf("unsupported document type %q", req.MimeType)).WithDocument(req.JobID)
	}

	// Step 3: Stage the file for the collaborators
	stagedPath, cleanup, err := p.stageFile(req.JobID, ext, fileData)
	if err != nil {
		return nil, errors.NewPipelineError(string(StageInit), err).WithDocument(req.JobID)
	}
	defer cleanup()

	// Step 4: Run the pipeline
	outcome, err := p.orchestrator.Analyze(ctx, Document{
		ID:       req.JobID,
		Filename: req.Filename,
		Path:     stagedPath,
	}, AnalyzeOptions{
		TopN:  req.TopN,
		Notes: p.config.Notes,
	})
	if err != nil {
		return nil, err
	}

	// Step 5: Persist the outcome
	if err := p.persist(ctx, outcome); err != nil {
		return nil, errors.NewStorageFailedError(req.JobID, err)
	}

	result := summarize(outcome)
	log.Info("Document analysis finished",
		"status", string(result.Status),
		"paragraphs", result.ParagraphCount,
		"words", result.TotalWords,
		"compliant", result.IsCompliant,
		"processing_time_ms", result.ProcessingTimeMs)

	return result, nil
}

// UpdateJobStatus updates job status in the database
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	if update.Metadata == nil {
		update.Metadata = map[string]interface{}{}
	}
	update.Metadata["progress"] = progress

	if confidence, ok := metadata["confidence"].(float64); ok {
		update.Confidence = confidence
	}
	if processingTime, ok := metadata["processingTime"].(int64); ok {
		update.ProcessingTimeMs = processingTime
	}
	if stage, ok := metadata["stage"].(string); ok {
		update.Stage = stage
	}
	if documentID, ok := metadata["documentId"].(string); ok {
		update.DocumentID = documentID
	}
	if errorMsg, ok := metadata["error"].(string); ok {
		update.ErrorCode = "PROCESSING_ERROR"
		if code, ok := metadata["errorCode"].(string); ok && code != "" {
			update.ErrorCode = code
		}
		update.ErrorMessage = errorMsg
	}

	return p.store.UpdateJobStatus(ctx, update)
}

func (p *DocumentProcessor) persist(ctx context.Context, outcome *models.Outcome) error {
	if outcome.Rejected() {
		return p.store.SaveRejection(ctx, outcome.Rejection)
	}
	return p.store.SaveAnalysis(ctx, outcome.Result)
}

func summarize(outcome *models.Outcome) *ProcessResult {
	if outcome.Rejected() {
		r := outcome.Rejection
		return &ProcessResult{
			DocumentID:               r.DocumentID,
			Status:                   models.OutcomeRejected,
			Category:                 r.Category,
			ClassificationConfidence: r.Confidence,
			ProcessingTimeMs:         r.ProcessingTimeMs,
		}
	}

	r := outcome.Result
	result := &ProcessResult{
		DocumentID:               r.DocumentID,
		Status:                   models.OutcomeCompleted,
		Category:                 DefaultTargetCategory,
		ClassificationConfidence: r.ClassificationConfidence,
		ParagraphCount:           len(r.Paragraphs),
		ProcessingTimeMs:         r.ProcessingTimeMs,
	}
	if r.TextAnalysis != nil {
		result.TotalWords = r.TextAnalysis.TotalWords
	}
	if r.Compliance != nil {
		result.IsCompliant = r.Compliance.IsCompliant
	}
	return result
}

// stageFile writes the document to a private temp file and returns a cleanup func
func (p *DocumentProcessor) stageFile(jobID, ext string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp(p.config.TempDir, "doc-"+sanitizeForFilename(jobID)+"-*"+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create staging file: %w", err)
	}
	path := f.Name()

	cleanup := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("Failed to remove staged file", "path", path, "error", err)
		}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("failed to close staging file: %w", err)
	}

	return path, cleanup, nil
}

func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
			return nil, errors.NewValidationError(string(StageInit),
				fmt.Sprintf("file size %d exceeds limit of %d bytes", len(req.FileBuffer), p.config.MaxFileSize)).WithDocument(req.JobID)
		}
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		fileData, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL)
		if err != nil {
			return nil, err
		}
		p.logger.Info("File downloaded", "job_id", req.JobID, "bytes", len(fileData))
		return fileData, nil
	}

	return nil, errors.NewValidationError(string(StageInit), "no file source provided (buffer or URL)").WithDocument(req.JobID)
}

// downloadFileFromURL fetches the file, retrying network errors and 5xx
// responses with exponential backoff. 4xx responses fail immediately.
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	var data []byte

	err := retry.Do(
		func() error {
			body, err := p.fetch(ctx, fileURL)
			if err != nil {
				return err
			}
			data = body
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(p.config.DownloadAttempts),
		retry.Delay(p.config.DownloadDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("Download attempt failed, retrying", "job_id", jobID, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewPipelineError(string(StageInit), ctx.Err()).WithDocument(jobID)
		}
		return nil, errors.NewExternalServiceError(string(StageInit), "download", err).WithDocument(jobID)
	}

	return data, nil
}

func (p *DocumentProcessor) fetch(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("invalid file URL: %w", err))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, retry.Unrecoverable(fmt.Errorf("download failed with status %d", resp.StatusCode))
	}

	reader := io.Reader(resp.Body)
	if p.config.MaxFileSize > 0 {
		reader = io.LimitReader(resp.Body, p.config.MaxFileSize+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}

	if p.config.MaxFileSize > 0 && int64(len(body)) > p.config.MaxFileSize {
		return nil, retry.Unrecoverable(fmt.Errorf("file exceeds limit of %d bytes", p.config.MaxFileSize))
	}

	return body, nil
}

// detectMimeTypeFromMagicBytes recognizes the formats the pipeline can take
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	}

	return ""
}

func sanitizeForFilename(s string) string {
	s = filepath.Base(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
