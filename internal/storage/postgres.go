/**
 * PostgreSQL Client for the Document Analysis Worker
 *
 * Handles job status persistence and storage of analysis outcomes
 * (completed results and classification rejections).
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

const (
	// AnalysisStatusCompleted marks a stored full analysis
	AnalysisStatusCompleted = "completed"
	// AnalysisStatusRejected marks a stored classification rejection
	AnalysisStatusRejected = "rejected"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Stage            string
	Confidence       float64
	ProcessingTimeMs int64
	DocumentID       string
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// StoredAnalysis is one row of docanalysis.analysis_results
type StoredAnalysis struct {
	DocumentID               string
	Filename                 string
	Status                   string
	Category                 string
	ClassificationConfidence float64
	TotalWords               int
	UniqueWords              int
	ParagraphCount           int
	IsCompliant              bool
	RejectionReason          string
	ReportText               string
	VectorPointID            string
	ProcessingTimeMs         int64
	Result                   *models.AnalysisResult
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// sanitizeConfidence clamps confidence to [0, 1] and rounds to 4 decimals
// to fit the NUMERIC(5,4) columns.
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// NewPostgresClientFromDB wraps an already opened database handle
func NewPostgresClientFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// UpdateJobStatus upserts the job row so the worker can record status
// before the API has created it.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update == nil || update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	sanitizedConfidence := sanitizeConfidence(update.Confidence)

	metadataJSON, err := json.Marshal(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	var filename, mimeType, userID string
	var fileSize int64
	if update.Metadata != nil {
		if fn, ok := update.Metadata["filename"].(string); ok {
			filename = fn
		}
		if mt, ok := update.Metadata["mimeType"].(string); ok {
			mimeType = mt
		}
		if fs, ok := update.Metadata["fileSize"].(int64); ok {
			fileSize = fs
		} else if fs, ok := update.Metadata["fileSize"].(float64); ok {
			fileSize = int64(fs)
		}
		if uid, ok := update.Metadata["userId"].(string); ok {
			userID = uid
		}
	}

	query := `
		INSERT INTO docanalysis.analysis_jobs (
			id, user_id, filename, mime_type, file_size,
			status, stage, confidence, processing_time_ms, document_id,
			error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, COALESCE(NULLIF($13, ''), 'anonymous'), COALESCE(NULLIF($10, ''), 'unknown'),
			COALESCE(NULLIF($11, ''), 'application/octet-stream'), $12,
			$2, NULLIF($3, ''), NULLIF($4::NUMERIC(5,4), 0), NULLIF($5, 0), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''),
			COALESCE($9::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			stage = COALESCE(EXCLUDED.stage, docanalysis.analysis_jobs.stage),
			confidence = COALESCE(EXCLUDED.confidence, docanalysis.analysis_jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, docanalysis.analysis_jobs.processing_time_ms),
			document_id = COALESCE(EXCLUDED.document_id, docanalysis.analysis_jobs.document_id),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = docanalysis.analysis_jobs.metadata || EXCLUDED.metadata,
			filename = CASE WHEN $10 = '' THEN docanalysis.analysis_jobs.filename ELSE EXCLUDED.filename END,
			mime_type = CASE WHEN $11 = '' THEN docanalysis.analysis_jobs.mime_type ELSE EXCLUDED.mime_type END,
			file_size = CASE WHEN $12 = 0 THEN docanalysis.analysis_jobs.file_size ELSE EXCLUDED.file_size END,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Status,           // $2
		update.Stage,            // $3
		sanitizedConfidence,     // $4
		update.ProcessingTimeMs, // $5
		update.DocumentID,       // $6
		update.ErrorCode,        // $7
		update.ErrorMessage,     // $8
		metadataJSON,            // $9
		filename,                // $10
		mimeType,                // $11
		fileSize,                // $12
		userID,                  // $13
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, sanitizedConfidence, err)
	}

	return nil
}

// SaveAnalysis stores a completed analysis. Re-analysis of the same
// document replaces the previous row.
func (p *PostgresClient) SaveAnalysis(ctx context.Context, result *models.AnalysisResult, vectorPointID string) error {
	if result == nil || result.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if result.TextAnalysis == nil || result.Compliance == nil {
		return fmt.Errorf("analysis %s is incomplete", result.DocumentID)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}
	resultJSON = sanitizeJSONForPostgres(resultJSON)

	query := `
		INSERT INTO docanalysis.analysis_results (
			document_id, filename, status, category, classification_confidence,
			total_words, unique_words, paragraph_count, is_compliant,
			report_text, vector_point_id, processing_time_ms, result,
			analyzed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULL, $4::NUMERIC(5,4),
			$5, $6, $7, $8,
			$9, NULLIF($10, ''), $11, $12::jsonb,
			$13, NOW(), NOW()
		)
		ON CONFLICT (document_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			status = EXCLUDED.status,
			category = NULL,
			classification_confidence = EXCLUDED.classification_confidence,
			total_words = EXCLUDED.total_words,
			unique_words = EXCLUDED.unique_words,
			paragraph_count = EXCLUDED.paragraph_count,
			is_compliant = EXCLUDED.is_compliant,
			rejection_reason = NULL,
			report_text = EXCLUDED.report_text,
			vector_point_id = EXCLUDED.vector_point_id,
			processing_time_ms = EXCLUDED.processing_time_ms,
			result = EXCLUDED.result,
			analyzed_at = EXCLUDED.analyzed_at,
			updated_at = NOW()
	`

	_, err = p.db.ExecContext(ctx, query,
		result.DocumentID,
		result.Filename,
		AnalysisStatusCompleted,
		sanitizeConfidence(result.ClassificationConfidence),
		result.TextAnalysis.TotalWords,
		result.TextAnalysis.UniqueWords,
		len(result.Paragraphs),
		result.Compliance.IsCompliant,
		result.ReportText,
		vectorPointID,
		result.ProcessingTimeMs,
		resultJSON,
		result.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store analysis %s: %w", result.DocumentID, err)
	}

	return nil
}

// SaveRejection stores a document turned away by the classification gate
func (p *PostgresClient) SaveRejection(ctx context.Context, rejection *models.Rejection) error {
	if rejection == nil || rejection.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}

	query := `
		INSERT INTO docanalysis.analysis_results (
			document_id, filename, status, category, classification_confidence,
			rejection_reason, processing_time_ms, analyzed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(5,4),
			$6, $7, NOW(), NOW(), NOW()
		)
		ON CONFLICT (document_id) DO UPDATE SET
			filename = EXCLUDED.filename,
			status = EXCLUDED.status,
			category = EXCLUDED.category,
			classification_confidence = EXCLUDED.classification_confidence,
			total_words = NULL,
			unique_words = NULL,
			paragraph_count = NULL,
			is_compliant = NULL,
			rejection_reason = EXCLUDED.rejection_reason,
			report_text = NULL,
			vector_point_id = NULL,
			processing_time_ms = EXCLUDED.processing_time_ms,
			result = NULL,
			analyzed_at = EXCLUDED.analyzed_at,
			updated_at = NOW()
	`

	_, err := p.db.ExecContext(ctx, query,
		rejection.DocumentID,
		rejection.Filename,
		AnalysisStatusRejected,
		rejection.Category,
		sanitizeConfidence(rejection.Confidence),
		rejection.Reason,
		rejection.ProcessingTimeMs,
	)
	if err != nil {
		return fmt.Errorf("failed to store rejection %s: %w", rejection.DocumentID, err)
	}

	return nil
}

// GetAnalysis retrieves a stored outcome by document ID
func (p *PostgresClient) GetAnalysis(ctx context.Context, documentID string) (*StoredAnalysis, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	query := `
		SELECT
			document_id,
			filename,
			status,
			category,
			classification_confidence,
			total_words,
			unique_words,
			paragraph_count,
			is_compliant,
			rejection_reason,
			report_text,
			vector_point_id,
			processing_time_ms,
			result,
			created_at,
			updated_at
		FROM docanalysis.analysis_results
		WHERE document_id = $1
	`

	var (
		stored                              StoredAnalysis
		category, rejectionReason           sql.NullString
		reportText, vectorPointID           sql.NullString
		confidence                          sql.NullFloat64
		totalWords, uniqueWords, paragraphs sql.NullInt64
		isCompliant                         sql.NullBool
		processingTimeMs                    sql.NullInt64
		resultJSON                          []byte
	)

	err := p.db.QueryRowContext(ctx, query, documentID).Scan(
		&stored.DocumentID, &stored.Filename, &stored.Status, &category, &confidence,
		&totalWords, &uniqueWords, &paragraphs, &isCompliant,
		&rejectionReason, &reportText, &vectorPointID, &processingTimeMs,
		&resultJSON, &stored.CreatedAt, &stored.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis %s: %w", documentID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	stored.Category = category.String
	stored.ClassificationConfidence = confidence.Float64
	stored.TotalWords = int(totalWords.Int64)
	stored.UniqueWords = int(uniqueWords.Int64)
	stored.ParagraphCount = int(paragraphs.Int64)
	stored.IsCompliant = isCompliant.Bool
	stored.RejectionReason = rejectionReason.String
	stored.ReportText = reportText.String
	stored.VectorPointID = vectorPointID.String
	stored.ProcessingTimeMs = processingTimeMs.Int64

	if len(resultJSON) > 0 {
		var result models.AnalysisResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal analysis result: %w", err)
		}
		stored.Result = &result
	}

	return &stored, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
