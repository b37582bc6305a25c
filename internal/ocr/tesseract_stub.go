//go:build !ocr

package ocr

import (
	"context"
	"errors"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

// ErrOCRNotEnabled is returned when the Tesseract layout provider is
// requested but OCR support was not compiled in. Rebuild with -tags ocr.
var ErrOCRNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// TesseractLayout is a stub that fails every call
type TesseractLayout struct{}

// NewTesseractLayout returns ErrOCRNotEnabled
func NewTesseractLayout(language string) (*TesseractLayout, error) {
	return nil, ErrOCRNotEnabled
}

// Detect returns ErrOCRNotEnabled
func (t *TesseractLayout) Detect(ctx context.Context, path string) (*models.LayoutPage, error) {
	return nil, ErrOCRNotEnabled
}
