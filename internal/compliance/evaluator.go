/**
 * Compliance Evaluator
 *
 * Checks word and paragraph counts against fixed rules, computes signed
 * differences and recommended actions, and renders the compliance report
 * from a placeholder template.
 */

package compliance

import (
	"fmt"
	"sync"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

const (
	// DefaultMinWords is the minimum word count of a compliant document
	DefaultMinWords = 2000

	// DefaultExpectedParagraphs is the exact paragraph count of a compliant document
	DefaultExpectedParagraphs = 8
)

// Rules holds the numeric thresholds
type Rules struct {
	MinWords           int
	ExpectedParagraphs int
}

// DefaultRules returns MinWords=2000, ExpectedParagraphs=8
func DefaultRules() Rules {
	return Rules{
		MinWords:           DefaultMinWords,
		ExpectedParagraphs: DefaultExpectedParagraphs,
	}
}

// Evaluator applies Rules and renders reports. The template is read from
// disk on first use and cached on the instance.
type Evaluator struct {
	rules        Rules
	templatePath string
	logger       *logging.Logger

	mu       sync.Mutex
	template string
	loaded   bool
}

// NewEvaluator creates an evaluator for the given rules and report template path
func NewEvaluator(rules Rules, templatePath string) *Evaluator {
	return &Evaluator{
		rules:        rules,
		templatePath: templatePath,
		logger:       logging.NewLogger("ComplianceEvaluator"),
	}
}

// Rules returns the evaluator thresholds
func (e *Evaluator) Rules() Rules {
	return e.rules
}

// Validate evaluates counts against the evaluator's rules
func (e *Evaluator) Validate(wordCount, paragraphCount int) models.ComplianceResult {
	return ValidateWith(wordCount, paragraphCount, e.rules)
}

// ValidateWith evaluates counts against explicit rules. It never fails.
func ValidateWith(wordCount, paragraphCount int, rules Rules) models.ComplianceResult {
	wordsCompliant := wordCount >= rules.MinWords
	wordDifference := wordCount - rules.MinWords

	paragraphsCompliant := paragraphCount == rules.ExpectedParagraphs
	paragraphDifference := paragraphCount - rules.ExpectedParagraphs

	actions := make([]string, 0, 2)

	if !wordsCompliant {
		if wordDifference < 0 {
			actions = append(actions, fmt.Sprintf("add %d words", -wordDifference))
		} else {
			actions = append(actions, "review count")
		}
	}

	if !paragraphsCompliant {
		if paragraphDifference < 0 {
			actions = append(actions, fmt.Sprintf("add %d paragraph(s)", -paragraphDifference))
		} else {
			actions = append(actions, fmt.Sprintf("merge/redistribute to remove %d paragraph(s)", paragraphDifference))
		}
	}

	return models.ComplianceResult{
		IsCompliant:         wordsCompliant && paragraphsCompliant,
		WordsCompliant:      wordsCompliant,
		ParagraphsCompliant: paragraphsCompliant,
		WordCount:           wordCount,
		ParagraphCount:      paragraphCount,
		WordDifference:      wordDifference,
		ParagraphDifference: paragraphDifference,
		RecommendedActions:  actions,
	}
}
