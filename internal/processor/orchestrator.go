/**
 * Pipeline Orchestrator
 *
 * Runs one document through the analysis stages in fixed order:
 *   preprocessing -> classifying -> (rejected | paragraph_detecting)
 *   -> text_analyzing -> compliance_evaluating -> completed
 *
 * Classification runs against the original file, layout detection against
 * the orientation-corrected working copy. The working copy is released on
 * every exit path, including failures and cancellation.
 */

package processor

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docanalysis-worker/internal/compliance"
	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
	"github.com/adverant/nexus/docanalysis-worker/internal/layout"
	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
	"github.com/adverant/nexus/docanalysis-worker/internal/textstats"
)

// Stage is a state of the pipeline state machine
type Stage string

const (
	StageInit                 Stage = "init"
	StagePreprocessing        Stage = "preprocessing"
	StageClassifying          Stage = "classifying"
	StageRejected             Stage = "rejected"
	StageParagraphDetecting   Stage = "paragraph_detecting"
	StageTextAnalyzing        Stage = "text_analyzing"
	StageComplianceEvaluating Stage = "compliance_evaluating"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
)

// DefaultTargetCategory is the category that passes the classification gate
const DefaultTargetCategory = "scientific_publication"

// Document identifies the file to analyze
type Document struct {
	ID       string
	Filename string
	Path     string
}

// AnalyzeOptions tunes a single run
type AnalyzeOptions struct {
	TopN              int
	SkipPreprocessing bool
	Notes             string
}

// OrchestratorConfig wires the collaborators and stage components
type OrchestratorConfig struct {
	Classifier     Classifier
	Layout         LayoutProvider
	Preprocessor   ImagePreprocessor
	Clusterer      *layout.Clusterer
	TextStats      *textstats.Engine
	Evaluator      *compliance.Evaluator
	TargetCategory string
	DefaultTopN    int
	Logger         *logging.Logger
	Now            func() time.Time
}

// Orchestrator sequences the pipeline stages for one document per call.
// It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	classifier   Classifier
	layout       LayoutProvider
	preprocessor ImagePreprocessor
	clusterer    *layout.Clusterer
	textStats    *textstats.Engine
	evaluator    *compliance.Evaluator
	target       string
	defaultTopN  int
	logger       *logging.Logger
	now          func() time.Time
}

// NewOrchestrator validates the configuration and fills defaults
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.Layout == nil {
		return nil, fmt.Errorf("layout provider is required")
	}

	o := &Orchestrator{
		classifier:   cfg.Classifier,
		layout:       cfg.Layout,
		preprocessor: cfg.Preprocessor,
		clusterer:    cfg.Clusterer,
		textStats:    cfg.TextStats,
		evaluator:    cfg.Evaluator,
		target:       cfg.TargetCategory,
		defaultTopN:  cfg.DefaultTopN,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}

	if o.textStats == nil {
		o.textStats = textstats.NewEngine()
	}
	if o.clusterer == nil {
		o.clusterer = layout.NewClusterer().WithWordCounter(textstats.CountWords)
	}
	if o.evaluator == nil {
		o.evaluator = compliance.NewEvaluator(compliance.DefaultRules(), "")
	}
	if o.target == "" {
		o.target = DefaultTargetCategory
	}
	if o.defaultTopN <= 0 {
		o.defaultTopN = textstats.DefaultTopN
	}
	if o.logger == nil {
		o.logger = logging.NewLogger("PipelineOrchestrator")
	}
	if o.now == nil {
		o.now = time.Now
	}

	return o, nil
}

// Analyze runs the full pipeline. It returns either a completed result or a
// rejection; any stage failure is returned as an *errors.AnalysisError.
func (o *Orchestrator) Analyze(ctx context.Context, doc Document, opts AnalyzeOptions) (*models.Outcome, error) {
	start := time.Now()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Filename == "" {
		doc.Filename = filepath.Base(doc.Path)
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = o.defaultTopN
	}

	log := o.logger.With("document_id", doc.ID, "filename", doc.Filename)
	stage := StageInit

	if doc.Path == "" {
		return nil, o.fail(log, doc, stage, errors.NewValidationError(string(stage), "document path is required"))
	}

	// Step 1: orientation correction
	stage = o.enter(log, StagePreprocessing)
	working, err := o.preprocess(ctx, doc, opts)
	if err != nil {
		return nil, o.fail(log, doc, stage, o.collaboratorError(ctx, stage, "preprocessor", err))
	}
	defer func() {
		if err := working.Release(); err != nil {
			log.Warn("Failed to release working copy", "path", working.Path, "error", err)
		}
	}()

	// Step 2: classification gate, on the original file
	stage = o.enter(log, StageClassifying)
	if err := ctx.Err(); err != nil {
		return nil, o.fail(log, doc, stage, errors.NewPipelineError(string(stage), err))
	}
	classification, err := o.classifier.Classify(ctx, doc.Path)
	if err != nil {
		return nil, o.fail(log, doc, stage, o.collaboratorError(ctx, stage, "classifier", err))
	}
	if err := validateClassification(classification); err != nil {
		return nil, o.fail(log, doc, stage, errors.NewExternalServiceError(string(stage), "classifier", err))
	}
	log.Info("Document classified", "category", classification.Category, "confidence", classification.Confidence)

	if !classification.IsTarget(o.target) {
		o.enter(log, StageRejected)
		rejection := &models.Rejection{
			DocumentID:       doc.ID,
			Filename:         doc.Filename,
			Category:         classification.Category,
			Confidence:       classification.Confidence,
			Reason:           fmt.Sprintf("document classified as %q, expected %q", classification.Category, o.target),
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}
		return &models.Outcome{Status: models.OutcomeRejected, Rejection: rejection}, nil
	}

	// Step 3: layout detection and clustering, on the working copy
	stage = o.enter(log, StageParagraphDetecting)
	if err := ctx.Err(); err != nil {
		return nil, o.fail(log, doc, stage, errors.NewPipelineError(string(stage), err))
	}
	page, err := o.layout.Detect(ctx, working.Path)
	if err != nil {
		return nil, o.fail(log, doc, stage, o.collaboratorError(ctx, stage, "layout", err))
	}
	if err := validatePage(page); err != nil {
		return nil, o.fail(log, doc, stage, errors.NewExternalServiceError(string(stage), "layout", err))
	}
	paragraphs := o.clusterer.DetectParagraphs(page.Detections, page.Height, page.Width)
	log.Info("Paragraphs detected", "detections", len(page.Detections), "paragraphs", len(paragraphs))

	// Step 4: text statistics
	stage = o.enter(log, StageTextAnalyzing)
	analysis, err := o.textStats.Analyze(paragraphs, topN)
	if err != nil {
		return nil, o.fail(log, doc, stage, err)
	}

	// Step 5: compliance and report
	stage = o.enter(log, StageComplianceEvaluating)
	if err := ctx.Err(); err != nil {
		return nil, o.fail(log, doc, stage, errors.NewPipelineError(string(stage), err))
	}
	result := o.evaluator.Validate(analysis.TotalWords, len(paragraphs))
	analyzedAt := o.now().UTC()
	report, err := o.evaluator.GenerateReport(compliance.NewReportData(
		doc.Filename, doc.ID, analyzedAt, o.evaluator.Rules(), result, opts.Notes))
	if err != nil {
		return nil, o.fail(log, doc, stage, err)
	}

	// Step 6: assemble
	o.enter(log, StageCompleted)
	out := &models.AnalysisResult{
		DocumentID:               doc.ID,
		Filename:                 doc.Filename,
		IsScientificPaper:        true,
		ClassificationConfidence: classification.Confidence,
		Paragraphs:               paragraphs,
		TextAnalysis:             analysis,
		Compliance:               &result,
		ReportText:               report,
		AnalyzedAt:               analyzedAt,
		ProcessingTimeMs:         time.Since(start).Milliseconds(),
	}

	log.Info("Analysis completed",
		"words", analysis.TotalWords,
		"paragraphs", len(paragraphs),
		"compliant", result.IsCompliant,
		"processing_time_ms", out.ProcessingTimeMs)

	return &models.Outcome{Status: models.OutcomeCompleted, Result: out}, nil
}

func (o *Orchestrator) preprocess(ctx context.Context, doc Document, opts AnalyzeOptions) (*models.WorkingDocument, error) {
	if o.preprocessor == nil || opts.SkipPreprocessing {
		return models.NewWorkingDocument(doc.Path, false, nil), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working, err := o.preprocessor.CorrectOrientation(ctx, doc.Path)
	if err != nil {
		return nil, err
	}
	if working == nil {
		return models.NewWorkingDocument(doc.Path, false, nil), nil
	}
	return working, nil
}

func (o *Orchestrator) enter(log *logging.Logger, stage Stage) Stage {
	log.Debug("Entering stage", "stage", string(stage))
	return stage
}

// collaboratorError maps a collaborator failure, preferring cancellation
// over the collaborator's own error when the context is done. A
// collaborator that rejects its input keeps the validation error.
func (o *Orchestrator) collaboratorError(ctx context.Context, stage Stage, service string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.NewPipelineError(string(stage), ctxErr)
	}
	if code, ok := errors.CodeOf(err); ok && code == errors.ErrorValidationFailed {
		var ae *errors.AnalysisError
		errors.As(err, &ae)
		if ae.Stage == "" {
			ae.Stage = string(stage)
		}
		return ae
	}
	return errors.NewExternalServiceError(string(stage), service, err)
}

func (o *Orchestrator) fail(log *logging.Logger, doc Document, stage Stage, err error) error {
	var ae *errors.AnalysisError
	if !errors.As(err, &ae) {
		ae = errors.NewPipelineError(string(stage), err)
	}
	ae.WithDocument(doc.ID)

	log.Error("Pipeline failed",
		"stage", string(stage),
		"state", string(StageFailed),
		"code", string(ae.Code),
		"error", ae)

	return ae
}

func validateClassification(c *models.Classification) error {
	if c == nil {
		return fmt.Errorf("empty classification")
	}
	if c.Category == "" {
		return fmt.Errorf("classification has no category")
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("classification confidence %v out of range", c.Confidence)
	}
	return nil
}

func validatePage(page *models.LayoutPage) error {
	if page == nil {
		return fmt.Errorf("empty layout result")
	}
	if math.IsNaN(page.Width) || math.IsNaN(page.Height) || page.Width < 0 || page.Height < 0 {
		return fmt.Errorf("invalid page size %vx%v", page.Width, page.Height)
	}
	for i, d := range page.Detections {
		if !d.BBox.Valid() {
			return fmt.Errorf("detection %d: invalid bbox %+v", i, d.BBox)
		}
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			return fmt.Errorf("detection %d: confidence %v out of range", i, d.Confidence)
		}
		if math.IsNaN(d.Area) || d.Area < 0 {
			return fmt.Errorf("detection %d: invalid area %v", i, d.Area)
		}
	}
	return nil
}
