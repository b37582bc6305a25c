package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

func newMockClient(t *testing.T) (*PostgresClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresClientFromDB(db), mock
}

func sampleResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		DocumentID:               "doc-1",
		Filename:                 "paper.pdf",
		IsScientificPaper:        true,
		ClassificationConfidence: 0.9,
		Paragraphs: []models.ParagraphRecord{
			{Index: 0, Text: "alpha beta gamma", WordCount: 3},
		},
		TextAnalysis: &models.TextAnalysis{
			TotalWords:      3,
			UniqueWords:     2,
			WordFrequencies: map[string]int{"alpha": 2, "beta": 1},
		},
		Compliance: &models.ComplianceResult{IsCompliant: true},
		ReportText: "report",
		AnalyzedAt: time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
	}
}

func TestSanitizeConfidence(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-0.2, 0},
		{1.7, 1},
		{0.9632000000000001, 0.9632},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, sanitizeConfidence(tt.in), 1e-9)
	}
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	out := sanitizeJSONForPostgres([]byte(`{"a":"x\u0000y","b":"\u0007"}`))
	assert.Equal(t, `{"a":"xy","b":" "}`, string(out))
}

func TestUpdateJobStatus(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("INSERT INTO docanalysis.analysis_jobs").
		WithArgs("job-1", "processing", "classifying", 0.0, int64(0), "", "", "",
			sqlmock.AnyArg(), "paper.pdf", "", int64(0), "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("job-1"))

	err := client.UpdateJobStatus(context.Background(), &JobUpdate{
		JobID:    "job-1",
		Status:   "processing",
		Stage:    "classifying",
		Metadata: map[string]interface{}{"filename": "paper.pdf"},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusRequiresFields(t *testing.T) {
	client, _ := newMockClient(t)

	assert.Error(t, client.UpdateJobStatus(context.Background(), &JobUpdate{Status: "failed"}))
	assert.Error(t, client.UpdateJobStatus(context.Background(), &JobUpdate{JobID: "job-1"}))
}

func TestUpdateJobStatusNoRows(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("INSERT INTO docanalysis.analysis_jobs").
		WillReturnError(sql.ErrNoRows)

	err := client.UpdateJobStatus(context.Background(), &JobUpdate{JobID: "job-9", Status: "failed"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found: job-9")
}

func TestSaveAnalysis(t *testing.T) {
	client, mock := newMockClient(t)
	result := sampleResult()

	mock.ExpectExec("INSERT INTO docanalysis.analysis_results").
		WithArgs("doc-1", "paper.pdf", AnalysisStatusCompleted, 0.9,
			3, 2, 1, true, "report", "point-1", int64(0), sqlmock.AnyArg(), result.AnalyzedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, client.SaveAnalysis(context.Background(), result, "point-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnalysisRejectsIncompleteResult(t *testing.T) {
	client, _ := newMockClient(t)

	err := client.SaveAnalysis(context.Background(), &models.AnalysisResult{DocumentID: "doc-1"}, "")
	assert.Error(t, err)

	err = client.SaveAnalysis(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestSaveRejection(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectExec("INSERT INTO docanalysis.analysis_results").
		WithArgs("doc-2", "invoice.png", AnalysisStatusRejected, "invoice", 0.88, "not a paper", int64(15)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.SaveRejection(context.Background(), &models.Rejection{
		DocumentID:       "doc-2",
		Filename:         "invoice.png",
		Category:         "invoice",
		Confidence:       0.88,
		Reason:           "not a paper",
		ProcessingTimeMs: 15,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnalysisRejected(t *testing.T) {
	client, mock := newMockClient(t)
	now := time.Now()

	cols := []string{
		"document_id", "filename", "status", "category", "classification_confidence",
		"total_words", "unique_words", "paragraph_count", "is_compliant",
		"rejection_reason", "report_text", "vector_point_id", "processing_time_ms",
		"result", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM docanalysis.analysis_results").
		WithArgs("doc-2").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"doc-2", "invoice.png", "rejected", "invoice", 0.88,
			nil, nil, nil, nil,
			"not a paper", nil, nil, int64(15),
			nil, now, now,
		))

	stored, err := client.GetAnalysis(context.Background(), "doc-2")

	require.NoError(t, err)
	assert.Equal(t, AnalysisStatusRejected, stored.Status)
	assert.Equal(t, "invoice", stored.Category)
	assert.Equal(t, "not a paper", stored.RejectionReason)
	assert.Nil(t, stored.Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnalysisCompleted(t *testing.T) {
	client, mock := newMockClient(t)
	now := time.Now()

	cols := []string{
		"document_id", "filename", "status", "category", "classification_confidence",
		"total_words", "unique_words", "paragraph_count", "is_compliant",
		"rejection_reason", "report_text", "vector_point_id", "processing_time_ms",
		"result", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM docanalysis.analysis_results").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"doc-1", "paper.pdf", "completed", nil, 0.9,
			int64(3), int64(2), int64(1), true,
			nil, "report", "point-1", int64(40),
			[]byte(`{"document_id":"doc-1","filename":"paper.pdf","text_analysis":{"total_words":3}}`), now, now,
		))

	stored, err := client.GetAnalysis(context.Background(), "doc-1")

	require.NoError(t, err)
	assert.True(t, stored.IsCompliant)
	assert.Equal(t, 3, stored.TotalWords)
	assert.Equal(t, "point-1", stored.VectorPointID)
	require.NotNil(t, stored.Result)
	assert.Equal(t, 3, stored.Result.TextAnalysis.TotalWords)
}

func TestGetAnalysisNotFound(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery("SELECT (.+) FROM docanalysis.analysis_results").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := client.GetAnalysis(context.Background(), "missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
