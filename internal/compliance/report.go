package compliance

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

//go:embed templates/compliance_report.md
var shippedTemplate string

const (
	// ShippedTemplatePath names the embedded template; an evaluator with an
	// empty template path uses it too
	ShippedTemplatePath = "internal/compliance/templates/compliance_report.md"

	stageComplianceEvaluating = "compliance_evaluating"

	// AnalysisDatetimeLayout formats analysis_datetime
	AnalysisDatetimeLayout = "2006-01-02 15:04:05"

	statusCompliant    = "Compliant"
	statusNonCompliant = "Non-compliant"
	noActionRequired   = "No action required"
)

// Placeholders is the documented placeholder set filled by NewReportData
var Placeholders = []string{
	"file_name",
	"document_id",
	"analysis_datetime",
	"word_count",
	"paragraph_count",
	"min_words",
	"expected_paragraphs",
	"words_ok",
	"paragraphs_ok",
	"overall_status",
	"summary_sentence_1",
	"summary_sentence_2",
	"words_action",
	"paragraphs_action",
	"notes",
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// ReportData maps placeholder names to their substituted values
type ReportData map[string]string

// NewReportData builds the values of every documented placeholder from a compliance result
func NewReportData(filename, documentID string, analyzedAt time.Time, rules Rules, result models.ComplianceResult, notes string) ReportData {
	if documentID == "" {
		documentID = "N/A"
	}

	summary1 := fmt.Sprintf("The text has %d words (%s) and %d paragraphs (%s).",
		result.WordCount, describeWordDifference(result.WordDifference),
		result.ParagraphCount, describeParagraphDifference(result.ParagraphDifference))
	summary2 := fmt.Sprintf("Based on the established rules, the document is %s.", status(result.IsCompliant))

	return ReportData{
		"file_name":           filename,
		"document_id":         documentID,
		"analysis_datetime":   analyzedAt.Format(AnalysisDatetimeLayout),
		"word_count":          strconv.Itoa(result.WordCount),
		"paragraph_count":     strconv.Itoa(result.ParagraphCount),
		"min_words":           strconv.Itoa(rules.MinWords),
		"expected_paragraphs": strconv.Itoa(rules.ExpectedParagraphs),
		"words_ok":            status(result.WordsCompliant),
		"paragraphs_ok":       status(result.ParagraphsCompliant),
		"overall_status":      status(result.IsCompliant),
		"summary_sentence_1":  summary1,
		"summary_sentence_2":  summary2,
		"words_action":        wordsAction(result),
		"paragraphs_action":   paragraphsAction(result),
		"notes":               notes,
	}
}

// GenerateReport renders the evaluator's template with data
func (e *Evaluator) GenerateReport(data ReportData) (string, error) {
	tmpl, err := e.loadTemplate()
	if err != nil {
		return "", err
	}
	return RenderTemplate(tmpl, data)
}

// loadTemplate reads the template once; a failed read is retried on the next call.
// An empty path selects the embedded template.
func (e *Evaluator) loadTemplate() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return e.template, nil
	}

	if e.templatePath == "" {
		e.template = shippedTemplate
		e.loaded = true
		return e.template, nil
	}

	content, err := os.ReadFile(e.templatePath)
	if err != nil && os.IsNotExist(err) && e.templatePath == ShippedTemplatePath {
		// started outside the source tree
		content, err = []byte(shippedTemplate), nil
	}
	if err != nil {
		return "", errors.NewTemplateError(stageComplianceEvaluating, fmt.Sprintf("failed to read report template %s", e.templatePath), err)
	}

	e.template = string(content)
	e.loaded = true
	e.logger.Debug("Report template loaded", "path", e.templatePath, "bytes", len(content))

	return e.template, nil
}

// RenderTemplate substitutes every {{name}} placeholder literally.
// A placeholder with no value in data is a template error.
func RenderTemplate(tmpl string, data ReportData) (string, error) {
	missing := make(map[string]struct{})

	rendered := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := data[name]
		if !ok {
			missing[name] = struct{}{}
			return match
		}
		return value
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		tmplErr := errors.NewTemplateError(stageComplianceEvaluating, fmt.Sprintf("no value for placeholder(s): %s", strings.Join(names, ", ")), nil)
		tmplErr.Details = map[string]interface{}{"missing": names}
		return "", tmplErr
	}

	return rendered, nil
}

func status(ok bool) string {
	if ok {
		return statusCompliant
	}
	return statusNonCompliant
}

func describeWordDifference(diff int) string {
	switch {
	case diff > 0:
		return fmt.Sprintf("%d above the minimum", diff)
	case diff < 0:
		return fmt.Sprintf("%d below the minimum", -diff)
	default:
		return "exactly the minimum"
	}
}

func describeParagraphDifference(diff int) string {
	switch {
	case diff > 0:
		return fmt.Sprintf("%d above the required count", diff)
	case diff < 0:
		return fmt.Sprintf("%d below the required count", -diff)
	default:
		return "as required"
	}
}

func wordsAction(result models.ComplianceResult) string {
	switch {
	case result.WordsCompliant:
		return noActionRequired
	case result.WordDifference < 0:
		return fmt.Sprintf("Add %d words", -result.WordDifference)
	default:
		return fmt.Sprintf("Reduce %d words", result.WordDifference)
	}
}

func paragraphsAction(result models.ComplianceResult) string {
	switch {
	case result.ParagraphsCompliant:
		return noActionRequired
	case result.ParagraphDifference < 0:
		return fmt.Sprintf("Add %d paragraph(s)", -result.ParagraphDifference)
	default:
		return fmt.Sprintf("Merge/redistribute to remove %d paragraph(s)", result.ParagraphDifference)
	}
}
