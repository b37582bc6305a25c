package layout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

const (
	pageHeight = 1000.0
	pageWidth  = 800.0
)

// makeBlock builds a text detection with area derived from its box
func makeBlock(x1, y1, x2, y2, conf float64, text string) models.RawDetection {
	box := models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
	return models.RawDetection{
		Label:      "text",
		BBox:       box,
		Confidence: conf,
		Area:       box.Area(),
		Text:       text,
	}
}

func TestDetectParagraphsEmpty(t *testing.T) {
	c := NewClusterer()

	got := c.DetectParagraphs(nil, pageHeight, pageWidth)

	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDetectParagraphsSingleDetection(t *testing.T) {
	c := NewClusterer()

	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(100, 100, 700, 200, 0.9, "only block"),
	}, pageHeight, pageWidth)

	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "only block", got[0].Text)
	assert.Equal(t, 2, got[0].WordCount)
	assert.Equal(t, 1, got[0].NumBlocks)
}

func TestDetectParagraphsMergesCloseAlignedBlocks(t *testing.T) {
	c := NewClusterer()

	detections := []models.RawDetection{
		makeBlock(100, 100, 700, 160, 0.9, "first line of the paragraph"),
		makeBlock(100, 170, 690, 230, 0.7, "second line"),
		makeBlock(100, 400, 700, 480, 0.8, "another paragraph"),
	}

	got := c.DetectParagraphs(detections, pageHeight, pageWidth)

	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 2, first.NumBlocks)
	assert.Equal(t, "first line of the paragraph second line", first.Text)
	assert.Equal(t, models.BoundingBox{X1: 100, Y1: 100, X2: 700, Y2: 230}, *first.BBox)
	assert.InDelta(t, 0.8, *first.Confidence, 1e-9)
	assert.InDelta(t, detections[0].Area+detections[1].Area, first.Area, 1e-9)

	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, "another paragraph", got[1].Text)
}

func TestDetectParagraphsGapOnBoundarySplits(t *testing.T) {
	c := NewClusterer()

	// gap = 250 - 200 = 50 = 0.05 * 1000
	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(100, 100, 700, 200, 0.9, "upper"),
		makeBlock(100, 250, 700, 350, 0.9, "lower"),
	}, pageHeight, pageWidth)

	require.Len(t, got, 2)
	assert.Equal(t, "upper", got[0].Text)
	assert.Equal(t, "lower", got[1].Text)
}

func TestDetectParagraphsOverlapOnBoundarySplits(t *testing.T) {
	c := NewClusterer()

	// overlap 200 / union 400 = 0.5 exactly
	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(100, 100, 400, 200, 0.9, "left"),
		makeBlock(200, 210, 500, 310, 0.9, "right"),
	}, pageHeight, pageWidth)

	assert.Len(t, got, 2)
}

func TestDetectParagraphsDegenerateWidthStartsNewGroup(t *testing.T) {
	c := NewClustererWithConfig(ClusterConfig{
		TextLabels:          []string{"text"},
		MinAreaRatio:        0,
		MaxVerticalGapRatio: 0.05,
		MinOverlapRatio:     0.5,
	})

	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(300, 100, 300, 200, 0.9, "a"),
		makeBlock(300, 205, 300, 300, 0.9, "b"),
	}, pageHeight, pageWidth)

	assert.Len(t, got, 2)
}

func TestDetectParagraphsFiltersLabelsAndNoise(t *testing.T) {
	c := NewClusterer()

	figure := makeBlock(100, 100, 700, 300, 0.9, "figure")
	figure.Label = "figure"
	abandon := makeBlock(100, 320, 700, 400, 0.9, "page header")
	abandon.Label = "abandon"
	tiny := makeBlock(100, 420, 150, 440, 0.9, "noise") // 1000 / 800000 < 1%
	plain := makeBlock(100, 500, 700, 600, 0.9, "kept")
	plain.Label = " Plain Text "

	got := c.DetectParagraphs([]models.RawDetection{figure, abandon, tiny, plain}, pageHeight, pageWidth)

	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Text)
}

func TestDetectParagraphsAreaRatioExactlyOnePercentKept(t *testing.T) {
	c := NewClusterer()

	// 80 * 100 = 8000 = 1% of 800000
	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(0, 0, 80, 100, 0.9, "edge"),
	}, pageHeight, pageWidth)

	assert.Len(t, got, 1)
}

func TestDetectParagraphsZeroPageSize(t *testing.T) {
	c := NewClusterer()

	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(0, 0, 80, 100, 0.9, "edge"),
	}, 0, 0)

	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDetectParagraphsStableOrderForEqualY1(t *testing.T) {
	c := NewClusterer()

	detections := []models.RawDetection{
		makeBlock(450, 100, 750, 200, 0.9, "right column"),
		makeBlock(50, 100, 350, 200, 0.9, "left column"),
	}

	got := c.DetectParagraphs(detections, pageHeight, pageWidth)

	require.Len(t, got, 2)
	assert.Equal(t, "right column", got[0].Text)
	assert.Equal(t, "left column", got[1].Text)
}

func TestDetectParagraphsSortsTopToBottom(t *testing.T) {
	c := NewClusterer()

	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(100, 600, 700, 700, 0.9, "bottom"),
		makeBlock(100, 100, 700, 200, 0.9, "top"),
	}, pageHeight, pageWidth)

	require.Len(t, got, 2)
	assert.Equal(t, "top", got[0].Text)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "bottom", got[1].Text)
	assert.Equal(t, 1, got[1].Index)
}

func TestDetectParagraphsProperties(t *testing.T) {
	c := NewClusterer()

	detections := []models.RawDetection{
		makeBlock(60, 40, 740, 110, 0.95, "title block"),
		makeBlock(60, 130, 740, 210, 0.91, "intro one"),
		makeBlock(70, 215, 735, 300, 0.88, "intro two"),
		makeBlock(60, 420, 380, 520, 0.80, "left"),
		makeBlock(400, 420, 740, 520, 0.82, "right"),
		makeBlock(60, 530, 380, 640, 0.77, "left cont"),
		makeBlock(60, 900, 740, 980, 0.70, "footer text"),
	}

	first := c.DetectParagraphs(detections, pageHeight, pageWidth)
	second := c.DetectParagraphs(detections, pageHeight, pageWidth)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("clustering is not idempotent (-first +second):\n%s", diff)
	}

	assert.LessOrEqual(t, len(first), len(detections))

	totalBlocks := 0
	for i, p := range first {
		assert.Equal(t, i, p.Index)
		totalBlocks += p.NumBlocks
	}
	assert.Equal(t, len(detections), totalBlocks)

	// every member box is enclosed by the box of the paragraph that owns its text
	for _, d := range detections {
		found := false
		for _, p := range first {
			if p.BBox.Contains(d.BBox) {
				found = true
				break
			}
		}
		assert.True(t, found, "detection %q not enclosed by any paragraph", d.Text)
	}
}

func TestDetectParagraphsCustomWordCounter(t *testing.T) {
	c := NewClusterer().WithWordCounter(func(text string) int { return 42 })

	got := c.DetectParagraphs([]models.RawDetection{
		makeBlock(100, 100, 700, 200, 0.9, "a b c"),
	}, pageHeight, pageWidth)

	require.Len(t, got, 1)
	assert.Equal(t, 42, got[0].WordCount)
}

func TestDetectParagraphsDoesNotMutateInput(t *testing.T) {
	c := NewClusterer()

	detections := []models.RawDetection{
		makeBlock(100, 600, 700, 700, 0.9, "bottom"),
		makeBlock(100, 100, 700, 200, 0.9, "top"),
	}
	before := append([]models.RawDetection(nil), detections...)

	c.DetectParagraphs(detections, pageHeight, pageWidth)

	assert.Equal(t, before, detections)
}
