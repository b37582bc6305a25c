package processor

import (
	"context"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
	"github.com/adverant/nexus/docanalysis-worker/internal/storage"
)

// Classifier decides which category a document belongs to
type Classifier interface {
	Classify(ctx context.Context, path string) (*models.Classification, error)
}

// LayoutProvider detects text blocks, with their recognized text, on a page image
type LayoutProvider interface {
	Detect(ctx context.Context, path string) (*models.LayoutPage, error)
}

// ImagePreprocessor produces an orientation-corrected working copy of a document.
// The original file must not be modified.
type ImagePreprocessor interface {
	CorrectOrientation(ctx context.Context, path string) (*models.WorkingDocument, error)
}

// ResultStore persists pipeline outcomes and job status
type ResultStore interface {
	SaveAnalysis(ctx context.Context, result *models.AnalysisResult) error
	SaveRejection(ctx context.Context, rejection *models.Rejection) error
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}
