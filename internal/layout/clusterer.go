/**
 * Paragraph Clusterer
 *
 * Groups text-block detections from a layout provider into paragraphs:
 * - keeps text-class detections covering at least 1% of the page
 * - orders them top to bottom
 * - merges vertically close boxes that share most of their horizontal extent
 */

package layout

import (
	"sort"
	"strings"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
	"gonum.org/v1/gonum/stat"
)

// WordCounter returns the number of words in a paragraph's text
type WordCounter func(text string) int

// ClusterConfig holds the tunable thresholds of the clustering rule
type ClusterConfig struct {
	// TextLabels are the detection labels treated as body text (lowercase)
	TextLabels []string

	// MinAreaRatio drops detections whose area/(H*W) is below it
	MinAreaRatio float64

	// MaxVerticalGapRatio is the gap, as a fraction of page height, below which boxes merge
	MaxVerticalGapRatio float64

	// MinOverlapRatio is the horizontal overlap/union ratio above which boxes merge
	MinOverlapRatio float64
}

// DefaultClusterConfig returns the thresholds used by the production pipeline
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		TextLabels:          []string{"text", "paragraph", "body text", "plain text"},
		MinAreaRatio:        0.01,
		MaxVerticalGapRatio: 0.05,
		MinOverlapRatio:     0.5,
	}
}

// Clusterer turns raw detections into paragraph records
type Clusterer struct {
	config     ClusterConfig
	textLabels map[string]struct{}
	countWords WordCounter
}

// NewClusterer creates a clusterer with DefaultClusterConfig
func NewClusterer() *Clusterer {
	return NewClustererWithConfig(DefaultClusterConfig())
}

// NewClustererWithConfig creates a clusterer with custom thresholds
func NewClustererWithConfig(config ClusterConfig) *Clusterer {
	labels := make(map[string]struct{}, len(config.TextLabels))
	for _, l := range config.TextLabels {
		labels[normalizeLabel(l)] = struct{}{}
	}
	return &Clusterer{
		config:     config,
		textLabels: labels,
		countWords: func(text string) int { return len(strings.Fields(text)) },
	}
}

// WithWordCounter replaces the word counter used to fill ParagraphRecord.WordCount
func (c *Clusterer) WithWordCounter(counter WordCounter) *Clusterer {
	if counter != nil {
		c.countWords = counter
	}
	return c
}

// Config returns the clusterer thresholds
func (c *Clusterer) Config() ClusterConfig {
	return c.config
}

// IsTextLabel reports whether a detection label counts as body text
func (c *Clusterer) IsTextLabel(label string) bool {
	_, ok := c.textLabels[normalizeLabel(label)]
	return ok
}

// DetectParagraphs groups detections into paragraphs in reading order.
// The result is never nil; no detections yield an empty slice.
func (c *Clusterer) DetectParagraphs(detections []models.RawDetection, imageHeight, imageWidth float64) []models.ParagraphRecord {
	blocks := c.filter(detections, imageHeight, imageWidth)
	if len(blocks) == 0 {
		return []models.ParagraphRecord{}
	}

	// y1 is the only key; equal y1 keeps input order
	sort.SliceStable(blocks, func(i, j int) bool {
		return blocks[i].BBox.Y1 < blocks[j].BBox.Y1
	})

	groups := c.group(blocks, imageHeight)

	paragraphs := make([]models.ParagraphRecord, 0, len(groups))
	for i, g := range groups {
		paragraphs = append(paragraphs, c.buildParagraph(g, i))
	}
	return paragraphs
}

// filter keeps text detections whose page-area ratio reaches MinAreaRatio
func (c *Clusterer) filter(detections []models.RawDetection, imageHeight, imageWidth float64) []models.RawDetection {
	pageArea := imageHeight * imageWidth
	if pageArea <= 0 {
		return nil
	}

	kept := make([]models.RawDetection, 0, len(detections))
	for _, d := range detections {
		if !c.IsTextLabel(d.Label) {
			continue
		}
		if d.Area/pageArea < c.config.MinAreaRatio {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// group performs the single top-to-bottom pass. Each box is compared with
// the last box placed in the current group; boundary values split.
func (c *Clusterer) group(blocks []models.RawDetection, imageHeight float64) [][]models.RawDetection {
	maxGap := c.config.MaxVerticalGapRatio * imageHeight

	var groups [][]models.RawDetection
	current := []models.RawDetection{blocks[0]}

	for _, curr := range blocks[1:] {
		prev := current[len(current)-1]
		verticalGap := curr.BBox.Y1 - prev.BBox.Y2
		overlapRatio := curr.BBox.HorizontalOverlapRatio(prev.BBox)

		if verticalGap < maxGap && overlapRatio > c.config.MinOverlapRatio {
			current = append(current, curr)
			continue
		}

		groups = append(groups, current)
		current = []models.RawDetection{curr}
	}

	return append(groups, current)
}

// buildParagraph aggregates one group into a record
func (c *Clusterer) buildParagraph(group []models.RawDetection, index int) models.ParagraphRecord {
	bbox := group[0].BBox
	area := 0.0
	confidences := make([]float64, 0, len(group))
	texts := make([]string, 0, len(group))

	for _, d := range group {
		bbox = bbox.Union(d.BBox)
		area += d.Area
		confidences = append(confidences, d.Confidence)
		if t := strings.TrimSpace(d.Text); t != "" {
			texts = append(texts, t)
		}
	}

	confidence := stat.Mean(confidences, nil)
	text := strings.Join(texts, " ")

	return models.ParagraphRecord{
		Index:      index,
		Text:       text,
		WordCount:  c.countWords(text),
		BBox:       &bbox,
		Confidence: &confidence,
		Area:       area,
		NumBlocks:  len(group),
	}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
