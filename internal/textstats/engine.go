/**
 * Text Statistics Engine
 *
 * Normalizes paragraph text, tokenizes it and counts word frequencies.
 * The same token stream feeds total_words, the frequency table and the
 * per-paragraph word counts.
 */

package textstats

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

const (
	// ParagraphSeparator joins paragraph texts before normalization
	ParagraphSeparator = "\n\n"

	// MinTokenLength drops single-character tokens
	MinTokenLength = 2

	// DefaultTopN is the number of top words reported when the caller has no preference
	DefaultTopN = 10

	stageTextAnalyzing = "text_analyzing"
)

// Engine computes word statistics over paragraphs
type Engine struct{}

// NewEngine creates a text statistics engine
func NewEngine() *Engine {
	return &Engine{}
}

// Analyze computes word statistics for the given paragraphs in order.
// An empty paragraph list is a validation error.
func (e *Engine) Analyze(paragraphs []models.ParagraphRecord, topN int) (*models.TextAnalysis, error) {
	if len(paragraphs) == 0 {
		return nil, errors.NewValidationError(stageTextAnalyzing, "no paragraphs to analyze")
	}

	texts := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		texts[i] = p.Text
	}

	tokens := Tokenize(strings.Join(texts, ParagraphSeparator))
	counts, order := countTokens(tokens)

	return &models.TextAnalysis{
		TotalWords:      len(tokens),
		UniqueWords:     len(order),
		WordFrequencies: counts,
		TopWords:        topWords(counts, order, topN),
	}, nil
}

// Normalize applies NFC, replaces every rune that is not a letter, number
// (any Unicode N category, so superscripts survive), underscore or whitespace
// with a space, lowercases and collapses whitespace.
func Normalize(text string) string {
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == '_':
			b.WriteRune(r)
		default:
			// whitespace and punctuation both become a separator
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(cases.Lower(language.Und).String(b.String())), " ")
}

// Tokenize returns the normalized tokens of text with at least MinTokenLength runes
func Tokenize(text string) []string {
	fields := strings.Fields(Normalize(text))
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= MinTokenLength {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// CountWords returns len(Tokenize(text))
func CountWords(text string) int {
	return len(Tokenize(text))
}

// countTokens counts tokens and records first-encounter order
func countTokens(tokens []string) (map[string]int, []string) {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, tok := range tokens {
		if _, seen := counts[tok]; !seen {
			order = append(order, tok)
		}
		counts[tok]++
	}
	return counts, order
}

// topWords selects the topN most frequent tokens, ties in first-encounter order
func topWords(counts map[string]int, order []string, topN int) []models.WordFrequency {
	if topN <= 0 {
		return []models.WordFrequency{}
	}

	ranked := make([]models.WordFrequency, 0, len(order))
	for _, w := range order {
		ranked = append(ranked, models.WordFrequency{Word: w, Count: counts[w]})
	}

	// stable: equal counts keep encounter order
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})

	if topN < len(ranked) {
		ranked = ranked[:topN]
	}
	return ranked
}
