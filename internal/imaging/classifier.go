/**
 * Heuristic Document Classifier
 *
 * Offline classifier built only on image features of the page:
 * - white-space ratio after Otsu binarization
 * - edge density from Sobel gradient magnitude
 * - number of text-sized connected components
 *
 * Rules, first match wins:
 *   email                  white > 0.97 and edges < 0.03
 *   scientific_publication text components > 1200
 *   other                  everything else, confidence 0.5
 */

package imaging

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"

	"github.com/adverant/nexus/docanalysis-worker/internal/errors"
	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

const (
	CategoryEmail                 = "email"
	CategoryScientificPublication = "scientific_publication"
	CategoryOther                 = "other"

	emailWhiteRatio        = 0.97
	emailWhiteReference    = 0.981
	emailEdgeDensity       = 0.03
	scientificComponents   = 1200
	scientificReference    = 1800
	otherConfidence        = 0.5
	edgeMagnitudeThreshold = 150.0
	minTextComponentArea   = 10
	maxTextComponentArea   = 500
	largeRegionArea        = 5000

	stageClassifying = "classifying"
)

// Features are the image measurements the rules operate on
type Features struct {
	WhiteSpaceRatio   float64 `json:"white_space_ratio"`
	EdgeDensity       float64 `json:"edge_density"`
	TextComponents    int     `json:"text_components"`
	LargeBlackRegions int     `json:"large_black_regions"`
}

// HeuristicClassifier implements the pipeline's Classifier without any remote service
type HeuristicClassifier struct {
	logger *logging.Logger
}

// NewHeuristicClassifier creates a local classifier
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{logger: logging.NewLogger("HeuristicClassifier")}
}

// Classify decodes the page image at path and applies the rules. Content
// that no registered decoder accepts (PDF) is a validation error.
func (c *HeuristicClassifier) Classify(ctx context.Context, path string) (*models.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := Load(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("document not readable: %w", statErr)
		}
		return nil, errors.NewValidationError(stageClassifying,
			fmt.Sprintf("document is not a decodable image: %v", err))
	}

	features := ExtractFeatures(img)
	classification := ClassifyFeatures(features)

	c.logger.Debug("Heuristic classification",
		"path", path,
		"category", classification.Category,
		"confidence", classification.Confidence,
		"white_space_ratio", features.WhiteSpaceRatio,
		"edge_density", features.EdgeDensity,
		"text_components", features.TextComponents)

	return &classification, nil
}

// ClassifyFeatures applies the decision rules
func ClassifyFeatures(f Features) models.Classification {
	if f.WhiteSpaceRatio > emailWhiteRatio && f.EdgeDensity < emailEdgeDensity {
		whiteConf := math.Min(f.WhiteSpaceRatio/emailWhiteReference, 1.0)
		edgeConf := math.Min(emailEdgeDensity/math.Max(f.EdgeDensity, 0.001), 1.0)
		return models.Classification{Category: CategoryEmail, Confidence: (whiteConf + edgeConf) / 2}
	}

	if f.TextComponents > scientificComponents {
		return models.Classification{
			Category:   CategoryScientificPublication,
			Confidence: math.Min(float64(f.TextComponents)/scientificReference, 1.0),
		}
	}

	return models.Classification{Category: CategoryOther, Confidence: otherConfidence}
}

// ExtractFeatures measures img
func ExtractFeatures(img image.Image) Features {
	gray := ToGray(img)
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	total := w * h
	if total == 0 {
		return Features{}
	}

	threshold := OtsuThreshold(gray)

	// binary: pixels above the threshold are background
	dark := make([]bool, total)
	white := 0
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			if v > threshold {
				white++
			} else {
				dark[y*w+x] = true
			}
		}
	}

	text, large := countComponents(dark, w, h)

	return Features{
		WhiteSpaceRatio:   float64(white) / float64(total),
		EdgeDensity:       edgeDensity(gray),
		TextComponents:    text,
		LargeBlackRegions: large,
	}
}

// OtsuThreshold returns the gray level maximizing between-class variance
func OtsuThreshold(gray *image.Gray) uint8 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()

	levels := make([]float64, 256)
	hist := make([]float64, 256)
	for i := range levels {
		levels[i] = float64(i)
	}
	for y := 0; y < h; y++ {
		for _, v := range gray.Pix[y*gray.Stride : y*gray.Stride+w] {
			hist[v]++
		}
	}

	total := float64(w * h)
	if total == 0 {
		return 0
	}
	sum := stat.Mean(levels, hist) * total

	var sumB, wB float64
	best := -1.0
	threshold := 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}

	return uint8(threshold)
}

func edgeDensity(gray *image.Gray) float64 {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(gray.Pix[y*gray.Stride+x])
	}

	edges := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) -
				at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			if math.Hypot(gx, gy) >= edgeMagnitudeThreshold {
				edges++
			}
		}
	}

	return float64(edges) / float64(w*h)
}

// countComponents labels 8-connected dark regions and counts text-sized
// and large ones
func countComponents(dark []bool, w, h int) (text, large int) {
	visited := make([]bool, len(dark))
	stack := make([]int, 0, 64)

	for start := range dark {
		if !dark[start] || visited[start] {
			continue
		}

		area := 0
		visited[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++

			x, y := i%w, i/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if dark[n] && !visited[n] {
						visited[n] = true
						stack = append(stack, n)
					}
				}
			}
		}

		if area > minTextComponentArea && area < maxTextComponentArea {
			text++
		}
		if area > largeRegionArea {
			large++
		}
	}

	return text, large
}
