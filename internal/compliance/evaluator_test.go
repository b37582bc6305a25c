package compliance

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
)

func TestValidateCompliantDocument(t *testing.T) {
	e := NewEvaluator(DefaultRules(), "")

	result := e.Validate(2534, 8)

	assert.True(t, result.IsCompliant)
	assert.True(t, result.WordsCompliant)
	assert.True(t, result.ParagraphsCompliant)
	assert.Equal(t, 534, result.WordDifference)
	assert.Equal(t, 0, result.ParagraphDifference)
	assert.Empty(t, result.RecommendedActions)
}

func TestValidateShortDocument(t *testing.T) {
	e := NewEvaluator(DefaultRules(), "")

	result := e.Validate(1850, 7)

	assert.False(t, result.IsCompliant)
	assert.Equal(t, -150, result.WordDifference)
	assert.Equal(t, -1, result.ParagraphDifference)
	assert.Equal(t, []string{"add 150 words", "add 1 paragraph(s)"}, result.RecommendedActions)
}

func TestValidateCases(t *testing.T) {
	tests := []struct {
		name       string
		words      int
		paragraphs int
		compliant  bool
		actions    []string
	}{
		{"exact minimum", 2000, 8, true, []string{}},
		{"one word short", 1999, 8, false, []string{"add 1 words"}},
		{"too many paragraphs", 2500, 11, false, []string{"merge/redistribute to remove 3 paragraph(s)"}},
		{"both off", 0, 0, false, []string{"add 2000 words", "add 8 paragraph(s)"}},
		{"words fine paragraphs over", 4000, 9, false, []string{"merge/redistribute to remove 1 paragraph(s)"}},
	}

	e := NewEvaluator(DefaultRules(), "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Validate(tt.words, tt.paragraphs)
			assert.Equal(t, tt.compliant, result.IsCompliant)
			assert.Equal(t, tt.actions, result.RecommendedActions)
			assert.Equal(t, tt.words-2000, result.WordDifference)
			assert.Equal(t, tt.paragraphs-8, result.ParagraphDifference)
			assert.Equal(t, result.WordDifference >= 0 && result.ParagraphDifference == 0, result.IsCompliant)
		})
	}
}

func TestValidateWithOverriddenRules(t *testing.T) {
	e := NewEvaluator(Rules{MinWords: 100, ExpectedParagraphs: 2}, "")

	result := e.Validate(120, 2)

	assert.True(t, result.IsCompliant)
	assert.Equal(t, 20, result.WordDifference)
	assert.Equal(t, Rules{MinWords: 100, ExpectedParagraphs: 2}, e.Rules())
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Words: {{word_count}} / {{ min_words }} ({{word_count}})", ReportData{
		"word_count": "1850",
		"min_words":  "2000",
		"unused":     "x",
	})

	require.NoError(t, err)
	assert.Equal(t, "Words: 1850 / 2000 (1850)", out)
}

func TestRenderTemplateMissingValue(t *testing.T) {
	_, err := RenderTemplate("{{word_count}} {{overall_status}} {{notes}}", ReportData{"word_count": "1"})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTemplate))
	assert.Contains(t, err.Error(), "notes, overall_status")
}

func TestRenderTemplateLeavesNonPlaceholderBraces(t *testing.T) {
	out, err := RenderTemplate("{single} {{ }} {{a-b}}", ReportData{})

	require.NoError(t, err)
	assert.Equal(t, "{single} {{ }} {{a-b}}", out)
}

func TestGenerateReportMissingTemplate(t *testing.T) {
	e := NewEvaluator(DefaultRules(), filepath.Join(t.TempDir(), "missing.md"))

	_, err := e.GenerateReport(ReportData{})

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTemplate))
	assert.True(t, stderrors.Is(err, os.ErrNotExist))
}

func TestGenerateReportEmptyPathUsesEmbeddedTemplate(t *testing.T) {
	e := NewEvaluator(DefaultRules(), "")
	result := e.Validate(2534, 8)
	data := NewReportData("paper.pdf", "doc-1", time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC), e.Rules(), result, "")

	out, err := e.GenerateReport(data)

	require.NoError(t, err)
	assert.Contains(t, out, "paper.pdf")
	assert.Contains(t, out, "2534")
}

func TestGenerateReportShippedPathOutsideSourceTree(t *testing.T) {
	// tests run from the package directory, where the relative path does not resolve
	_, statErr := os.Stat(ShippedTemplatePath)
	require.True(t, os.IsNotExist(statErr))

	e := NewEvaluator(DefaultRules(), ShippedTemplatePath)
	data := NewReportData("paper.pdf", "doc-1", time.Now(), e.Rules(), e.Validate(10, 1), "")

	out, err := e.GenerateReport(data)

	require.NoError(t, err)
	assert.Contains(t, out, "paper.pdf")
}

func TestGenerateReportTemplateErrorCarriesStage(t *testing.T) {
	e := NewEvaluator(DefaultRules(), filepath.Join(t.TempDir(), "missing.md"))

	_, err := e.GenerateReport(ReportData{})

	assert.Equal(t, "compliance_evaluating", errors.StageOf(err))
}

func TestGenerateReportCachesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(path, []byte("Status: {{overall_status}}"), 0o644))

	e := NewEvaluator(DefaultRules(), path)

	out, err := e.GenerateReport(ReportData{"overall_status": "Compliant"})
	require.NoError(t, err)
	assert.Equal(t, "Status: Compliant", out)

	// later edits are not picked up by the same evaluator
	require.NoError(t, os.WriteFile(path, []byte("changed {{overall_status}}"), 0o644))
	out, err = e.GenerateReport(ReportData{"overall_status": "Non-compliant"})
	require.NoError(t, err)
	assert.Equal(t, "Status: Non-compliant", out)
}

func TestGenerateReportRetriesFailedLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.md")
	e := NewEvaluator(DefaultRules(), path)

	_, err := e.GenerateReport(ReportData{})
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("ok"), 0o644))
	out, err := e.GenerateReport(ReportData{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestGenerateReportConcurrentUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(path, []byte("{{word_count}}"), 0o644))
	e := NewEvaluator(DefaultRules(), path)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.GenerateReport(ReportData{"word_count": "7"})
			assert.NoError(t, err)
			assert.Equal(t, "7", out)
		}()
	}
	wg.Wait()
}

func TestShippedTemplateRendersWithReportData(t *testing.T) {
	e := NewEvaluator(DefaultRules(), filepath.Join("templates", "compliance_report.md"))
	result := e.Validate(1850, 7)
	analyzedAt := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	data := NewReportData("paper.pdf", "", analyzedAt, e.Rules(), result, "")
	out, err := e.GenerateReport(data)

	require.NoError(t, err)
	assert.Contains(t, out, "**File:** paper.pdf")
	assert.Contains(t, out, "**Document ID:** N/A")
	assert.Contains(t, out, "2024-03-05 14:07:09")
	assert.Contains(t, out, "The text has 1850 words (150 below the minimum) and 7 paragraphs (1 below the required count).")
	assert.Contains(t, out, "Based on the established rules, the document is Non-compliant.")
	assert.Contains(t, out, "| Words | at least 2000 | 1850 | Non-compliant | Add 150 words |")
	assert.Contains(t, out, "| Paragraphs | exactly 8 | 7 | Non-compliant | Add 1 paragraph(s) |")
	assert.NotContains(t, out, "{{")
}

func TestNewReportDataCoversPlaceholders(t *testing.T) {
	data := NewReportData("a.pdf", "doc-1", time.Now(), DefaultRules(), ValidateWith(2534, 8, DefaultRules()), "checked")

	for _, name := range Placeholders {
		assert.Contains(t, data, name)
	}
	assert.Equal(t, "Compliant", data["overall_status"])
	assert.Equal(t, "No action required", data["words_action"])
	assert.Equal(t, "The text has 2534 words (534 above the minimum) and 8 paragraphs (as required).", data["summary_sentence_1"])
}
