/**
 * Storage Manager for the Document Analysis Worker
 *
 * Coordinates storage operations across PostgreSQL (results, jobs) and
 * Qdrant (vocabulary vectors). A vector written for an analysis is removed
 * again if the SQL write fails, so both stores agree.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
	"github.com/adverant/nexus/docanalysis-worker/internal/textstats"
)

var (
	nullEscapePattern    = regexp.MustCompile(`\\u0000`)
	controlEscapePattern = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	vectors  VectorIndex
	logger   *logging.Logger
}

// SimilarDocument is a vocabulary search hit
type SimilarDocument struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Score      float32 `json:"score"`
	TotalWords int64   `json:"total_words"`
}

// NewStorageManager connects to PostgreSQL and, when an address is given, to Qdrant
func NewStorageManager(ctx context.Context, postgresURL string, qdrantAddress string, qdrantCollection string) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	var vectors VectorIndex
	if qdrantAddress != "" {
		qc, err := NewQdrantClient(ctx, qdrantAddress, qdrantCollection)
		if err != nil {
			postgres.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		vectors = qc
	}

	return NewStorageManagerWithClients(postgres, vectors), nil
}

// NewStorageManagerWithClients assembles a manager from existing clients.
// vectors may be nil to disable vocabulary indexing.
func NewStorageManagerWithClients(postgres *PostgresClient, vectors VectorIndex) *StorageManager {
	return &StorageManager{
		postgres: postgres,
		vectors:  vectors,
		logger:   logging.NewLogger("StorageManager"),
	}
}

// SaveAnalysis stores a completed analysis and its vocabulary vector
func (sm *StorageManager) SaveAnalysis(ctx context.Context, result *models.AnalysisResult) error {
	if result == nil || result.DocumentID == "" {
		return fmt.Errorf("document ID is required")
	}
	if result.TextAnalysis == nil {
		return fmt.Errorf("analysis %s has no text statistics", result.DocumentID)
	}

	var pointID string
	if sm.vectors != nil && result.TextAnalysis.TotalWords > 0 {
		pointID = PointIDForDocument(result.DocumentID)
		point := &VectorPoint{
			ID:     pointID,
			Vector: textstats.Vectorize(result.TextAnalysis.WordFrequencies, textstats.VocabularyDimensions),
			Metadata: map[string]interface{}{
				"document_id":  result.DocumentID,
				"filename":     result.Filename,
				"total_words":  int64(result.TextAnalysis.TotalWords),
				"is_compliant": result.Compliance != nil && result.Compliance.IsCompliant,
			},
			Timestamp: time.Now().Unix(),
		}

		if err := sm.vectors.UpsertVector(ctx, point); err != nil {
			return fmt.Errorf("failed to store vector in Qdrant: %w", err)
		}
	}

	if err := sm.postgres.SaveAnalysis(ctx, result, pointID); err != nil {
		if pointID != "" {
			if delErr := sm.vectors.DeleteVector(ctx, pointID); delErr != nil {
				sm.logger.Warn("Failed to roll back vector", "document_id", result.DocumentID, "point_id", pointID, "error", delErr)
			}
		}
		return fmt.Errorf("failed to store analysis in PostgreSQL: %w", err)
	}

	return nil
}

// SaveRejection stores a classification rejection
func (sm *StorageManager) SaveRejection(ctx context.Context, rejection *models.Rejection) error {
	return sm.postgres.SaveRejection(ctx, rejection)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetAnalysis retrieves a stored outcome
func (sm *StorageManager) GetAnalysis(ctx context.Context, documentID string) (*StoredAnalysis, error) {
	return sm.postgres.GetAnalysis(ctx, documentID)
}

// SearchSimilarDocuments finds documents with a similar vocabulary
func (sm *StorageManager) SearchSimilarDocuments(ctx context.Context, frequencies map[string]int, limit int) ([]*SimilarDocument, error) {
	if sm.vectors == nil {
		return nil, fmt.Errorf("vector index is not configured")
	}

	points, err := sm.vectors.SearchVectors(ctx, textstats.Vectorize(frequencies, textstats.VocabularyDimensions), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	results := make([]*SimilarDocument, 0, len(points))
	for _, point := range points {
		documentID, ok := point.Metadata["document_id"].(string)
		if !ok {
			continue
		}
		filename, _ := point.Metadata["filename"].(string)
		totalWords, _ := point.Metadata["total_words"].(int64)

		results = append(results, &SimilarDocument{
			DocumentID: documentID,
			Filename:   filename,
			Score:      point.Score,
			TotalWords: totalWords,
		})
	}

	return results, nil
}

// Migrate applies pending schema migrations
func (sm *StorageManager) Migrate() error {
	if err := sm.postgres.MigrateUp(); err != nil {
		return err
	}

	version, dirty, err := sm.postgres.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}

	sm.logger.Info("Schema is up to date", "version", version)
	return nil
}

// Ping checks PostgreSQL connectivity
func (sm *StorageManager) Ping(ctx context.Context) error {
	return sm.postgres.Ping(ctx)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	stats := map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
	}

	if sm.vectors != nil {
		qdrantStats, err := sm.vectors.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.vectors != nil {
		qdErr = sm.vectors.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

// sanitizeJSONForPostgres strips escapes JSONB rejects: \u0000 is removed,
// other control characters become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscapePattern.ReplaceAll(jsonBytes, []byte{})
	return controlEscapePattern.ReplaceAll(result, []byte(" "))
}
