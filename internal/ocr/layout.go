// Package ocr provides a local LayoutProvider backed by the Tesseract OCR
// engine. Paragraph-level blocks reported by Tesseract become "text"
// detections carrying their recognized text.
//
// The Tesseract implementation is compiled only with the "ocr" build tag:
//
//	go build -tags ocr
//
// It requires Tesseract to be installed. On Ubuntu/Debian:
//
//	apt-get install tesseract-ocr libtesseract-dev
package ocr

import (
	"image"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

// DefaultLanguage is used when no language is configured
const DefaultLanguage = "eng"

// textLabel is the label given to every Tesseract block
const textLabel = "text"

// toDetection converts one Tesseract block. Tesseract reports confidence in
// percent.
func toDetection(box image.Rectangle, text string, confidence float64) models.RawDetection {
	bbox := models.BoundingBox{
		X1: float64(box.Min.X),
		Y1: float64(box.Min.Y),
		X2: float64(box.Max.X),
		Y2: float64(box.Max.Y),
	}

	conf := confidence / 100
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return models.RawDetection{
		Label:      textLabel,
		BBox:       bbox,
		Confidence: conf,
		Area:       bbox.Area(),
		Text:       text,
	}
}

// pageFromBlocks assembles the LayoutPage for an image of the given size
func pageFromBlocks(size image.Point, detections []models.RawDetection) *models.LayoutPage {
	if detections == nil {
		detections = []models.RawDetection{}
	}
	return &models.LayoutPage{
		Width:      float64(size.X),
		Height:     float64(size.Y),
		Detections: detections,
	}
}
