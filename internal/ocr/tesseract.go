//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

// TesseractLayout detects paragraph blocks with Tesseract
type TesseractLayout struct {
	language string
	logger   *logging.Logger
}

// NewTesseractLayout creates a layout provider for the given language(s),
// "+" separated (e.g. "eng+por")
func NewTesseractLayout(language string) (*TesseractLayout, error) {
	if language == "" {
		language = DefaultLanguage
	}
	return &TesseractLayout{
		language: language,
		logger:   logging.NewLogger("TesseractLayout"),
	}, nil
}

// Detect runs Tesseract on the page image at path. A gosseract client is
// not safe for concurrent use, so each call gets its own.
func (t *TesseractLayout) Detect(ctx context.Context, path string) (*models.LayoutPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size, err := imageSize(path)
	if err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return nil, fmt.Errorf("failed to set OCR language %s: %w", t.language, err)
	}
	if err := client.SetImage(path); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_PARA)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	detections := make([]models.RawDetection, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		detections = append(detections, toDetection(b.Box, text, b.Confidence))
	}

	t.logger.Debug("Tesseract layout complete", "path", path, "blocks", len(detections))

	return pageFromBlocks(size, detections), nil
}

func imageSize(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, fmt.Errorf("failed to read image size: %w", err)
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}
