package imaging

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
)

func blankPage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

// denseTextPage draws a 40x40 grid of 4x4 glyph-sized blocks
func denseTextPage() *image.Gray {
	img := blankPage(400, 400)
	for gy := 0; gy < 40; gy++ {
		for gx := 0; gx < 40; gx++ {
			for y := 0; y < 4; y++ {
				for x := 0; x < 4; x++ {
					img.SetGray(gx*10+x+3, gy*10+y+3, color.Gray{Y: 0})
				}
			}
		}
	}
	return img
}

func halfBlackPage() *image.Gray {
	img := blankPage(200, 200)
	for y := 0; y < 200; y++ {
		for x := 0; x < 100; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	return img
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestOtsuThresholdBimodal(t *testing.T) {
	img := halfBlackPage()
	threshold := OtsuThreshold(img)
	assert.Less(t, threshold, uint8(255))
}

func TestExtractFeatures(t *testing.T) {
	tests := []struct {
		name       string
		img        *image.Gray
		white      float64
		components int
		large      int
	}{
		{"blank", blankPage(100, 100), 1.0, 0, 0},
		{"dense text", denseTextPage(), 0.84, 1600, 0},
		{"half black", halfBlackPage(), 0.5, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ExtractFeatures(tt.img)
			assert.InDelta(t, tt.white, f.WhiteSpaceRatio, 1e-9)
			assert.Equal(t, tt.components, f.TextComponents)
			assert.Equal(t, tt.large, f.LargeBlackRegions)
		})
	}
}

func TestClassifyFeaturesRules(t *testing.T) {
	tests := []struct {
		name       string
		features   Features
		category   string
		confidence float64
	}{
		{"email", Features{WhiteSpaceRatio: 0.99, EdgeDensity: 0.01}, CategoryEmail, 1.0},
		{"email weak edges", Features{WhiteSpaceRatio: 0.975, EdgeDensity: 0.02}, CategoryEmail, (0.975/0.981 + 1.0) / 2},
		{"white but edgy", Features{WhiteSpaceRatio: 0.99, EdgeDensity: 0.05, TextComponents: 10}, CategoryOther, 0.5},
		{"scientific", Features{WhiteSpaceRatio: 0.8, TextComponents: 1500}, CategoryScientificPublication, 1500.0 / 1800.0},
		{"scientific saturated", Features{WhiteSpaceRatio: 0.8, TextComponents: 5000}, CategoryScientificPublication, 1.0},
		{"boundary components", Features{WhiteSpaceRatio: 0.8, TextComponents: 1200}, CategoryOther, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ClassifyFeatures(tt.features)
			assert.Equal(t, tt.category, c.Category)
			assert.InDelta(t, tt.confidence, c.Confidence, 1e-9)
		})
	}
}

func TestHeuristicClassifierClassify(t *testing.T) {
	dir := t.TempDir()
	c := NewHeuristicClassifier()

	got, err := c.Classify(context.Background(), writePNG(t, dir, "paper.png", denseTextPage()))
	require.NoError(t, err)
	assert.Equal(t, CategoryScientificPublication, got.Category)
	assert.InDelta(t, 1600.0/1800.0, got.Confidence, 1e-9)

	got, err = c.Classify(context.Background(), writePNG(t, dir, "blank.png", blankPage(120, 160)))
	require.NoError(t, err)
	assert.Equal(t, CategoryEmail, got.Category)
}

func TestHeuristicClassifierErrors(t *testing.T) {
	c := NewHeuristicClassifier()

	_, err := c.Classify(context.Background(), filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Classify(ctx, "whatever.png")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeuristicClassifierUndecodableInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 ..."), 0o644))

	_, err := NewHeuristicClassifier().Classify(context.Background(), path)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
	assert.Equal(t, "classifying", errors.StageOf(err))
}

func TestCorrectOrientationRotatesLandscape(t *testing.T) {
	dir := t.TempDir()
	src := image.NewRGBA(image.Rect(0, 0, 30, 10))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	path := writePNG(t, dir, "landscape.png", src)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	c := NewOrientationCorrector(dir)
	working, err := c.CorrectOrientation(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, working.WasCorrected)
	assert.NotEqual(t, path, working.Path)

	img, _, err := Load(working.Path)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
	r, _, _, _ := img.At(9, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	// original untouched
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, after)

	require.NoError(t, working.Release())
	_, err = os.Stat(working.Path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, working.Release())
}

func TestCorrectOrientationKeepsPortrait(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "portrait.png", blankPage(10, 30))

	working, err := NewOrientationCorrector(dir).CorrectOrientation(context.Background(), path)

	require.NoError(t, err)
	assert.False(t, working.WasCorrected)
	assert.Equal(t, path, working.Path)
	require.NoError(t, working.Release())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCorrectOrientationPassesThroughUndecodable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 ..."), 0o644))

	working, err := NewOrientationCorrector(dir).CorrectOrientation(context.Background(), path)

	require.NoError(t, err)
	assert.False(t, working.WasCorrected)
	assert.Equal(t, path, working.Path)
}

func TestCorrectOrientationMissingFile(t *testing.T) {
	_, err := NewOrientationCorrector("").CorrectOrientation(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	assert.Error(t, err)
}

func TestRotateClockwise(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(2, 1, color.RGBA{G: 255, A: 255})

	dst := RotateClockwise(src)

	assert.Equal(t, image.Rect(0, 0, 2, 3), dst.Bounds())
	// (x, y) -> (h-1-y, x)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, dst.RGBAAt(0, 2))
}
