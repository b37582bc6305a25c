/**
 * Shared data model for the document analysis pipeline
 *
 * Detections come from the layout collaborator, paragraphs from the
 * clusterer, statistics from the text engine and the compliance verdict from
 * the evaluator. AnalysisResult aggregates them for one document.
 */

package models

import (
	"strings"
	"time"
)

// RawDetection is one labeled text-block box reported by a layout provider
type RawDetection struct {
	Label      string      `json:"label"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Area       float64     `json:"area"`
	Text       string      `json:"text,omitempty"` // Recognized text inside the box
}

// LayoutPage is the layout provider output for one page image
type LayoutPage struct {
	Width      float64        `json:"width"`
	Height     float64        `json:"height"`
	Detections []RawDetection `json:"detections"`
}

// ParagraphRecord is a group of detections merged into one paragraph
type ParagraphRecord struct {
	Index      int          `json:"index"`
	Text       string       `json:"text"`
	WordCount  int          `json:"word_count"`
	BBox       *BoundingBox `json:"bbox,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Area       float64      `json:"area"`
	NumBlocks  int          `json:"num_blocks"`
}

// WordFrequency pairs a normalized token with its occurrence count
type WordFrequency struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// TextAnalysis holds word statistics over all paragraphs of a document
type TextAnalysis struct {
	TotalWords      int             `json:"total_words"`
	UniqueWords     int             `json:"unique_words"`
	WordFrequencies map[string]int  `json:"word_frequencies"`
	TopWords        []WordFrequency `json:"top_words"`
}

// ComplianceResult is the verdict of the word/paragraph rules
type ComplianceResult struct {
	IsCompliant         bool     `json:"is_compliant"`
	WordsCompliant      bool     `json:"words_compliant"`
	ParagraphsCompliant bool     `json:"paragraphs_compliant"`
	WordCount           int      `json:"word_count"`
	ParagraphCount      int      `json:"paragraph_count"`
	WordDifference      int      `json:"word_difference"`
	ParagraphDifference int      `json:"paragraph_difference"`
	RecommendedActions  []string `json:"recommended_actions"`
}

// Classification is the classifier collaborator verdict
type Classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// IsTarget reports whether the category matches target, ignoring case
func (c Classification) IsTarget(target string) bool {
	return strings.EqualFold(strings.TrimSpace(c.Category), strings.TrimSpace(target))
}

// AnalysisResult aggregates every stage output for one document
type AnalysisResult struct {
	DocumentID               string            `json:"document_id"`
	Filename                 string            `json:"filename"`
	IsScientificPaper        bool              `json:"is_scientific_paper"`
	ClassificationConfidence float64           `json:"classification_confidence"`
	Paragraphs               []ParagraphRecord `json:"paragraphs"`
	TextAnalysis             *TextAnalysis     `json:"text_analysis"`
	Compliance               *ComplianceResult `json:"compliance"`
	ReportText               string            `json:"report_text"`
	AnalyzedAt               time.Time         `json:"analyzed_at"`
	ProcessingTimeMs         int64             `json:"processing_time_ms"`
}

// Rejection is returned when the classification gate turns a document away
type Rejection struct {
	DocumentID       string  `json:"document_id"`
	Filename         string  `json:"filename"`
	Category         string  `json:"category"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
}

// OutcomeStatus tags which variant of Outcome is populated
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeRejected  OutcomeStatus = "rejected"
)

// Outcome is the successful return of one pipeline run: either a full
// result or a rejection, never both.
type Outcome struct {
	Status    OutcomeStatus   `json:"status"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Rejection *Rejection      `json:"rejection,omitempty"`
}

// Rejected reports whether the gate rejected the document
func (o *Outcome) Rejected() bool {
	return o != nil && o.Status == OutcomeRejected
}
