/**
 * Orientation Corrector
 *
 * Produces the working copy used for layout detection. Landscape page
 * images are rotated 90 degrees clockwise into a temporary PNG; portrait
 * pages and formats that cannot be decoded here (PDF) are used as-is.
 * The original file is never written.
 */

package imaging

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

// OrientationCorrector implements the pipeline's ImagePreprocessor
type OrientationCorrector struct {
	tempDir string
	logger  *logging.Logger
}

// NewOrientationCorrector writes corrected copies under tempDir
// (os.TempDir when empty)
func NewOrientationCorrector(tempDir string) *OrientationCorrector {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &OrientationCorrector{
		tempDir: tempDir,
		logger:  logging.NewLogger("OrientationCorrector"),
	}
}

// CorrectOrientation returns a working document for path
func (c *OrientationCorrector) CorrectOrientation(ctx context.Context, path string) (*models.WorkingDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, format, err := Load(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("document not readable: %w", statErr)
		}
		c.logger.Debug("Not a decodable image, using original", "path", path, "error", err)
		return models.NewWorkingDocument(path, false, nil), nil
	}

	b := img.Bounds()
	if b.Dx() <= b.Dy() {
		return models.NewWorkingDocument(path, false, nil), nil
	}

	rotated := RotateClockwise(img)

	f, err := os.CreateTemp(c.tempDir, "oriented-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create working copy: %w", err)
	}
	out := f.Name()
	if err := png.Encode(f, rotated); err != nil {
		f.Close()
		os.Remove(out)
		return nil, fmt.Errorf("failed to encode working copy: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return nil, fmt.Errorf("failed to write working copy: %w", err)
	}

	c.logger.Info("Rotated landscape page", "path", path, "format", format,
		"width", b.Dx(), "height", b.Dy(), "working_copy", out)

	return models.NewWorkingDocument(out, true, func() error {
		if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}), nil
}

// RotateClockwise rotates img by 90 degrees clockwise
func RotateClockwise(img image.Image) *image.RGBA {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(h-1-y, x, src.RGBAAt(x, y))
		}
	}
	return dst
}
