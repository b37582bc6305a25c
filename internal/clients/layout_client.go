package clients

import (
	"context"
	"fmt"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

// LayoutClient calls the layout detection service (POST /detect), which
// runs the layout model over one page image
type LayoutClient struct {
	http *multipartClient
}

type layoutResponse struct {
	ImageSize struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"image_size"`
	Detections []layoutDetection `json:"detections"`
}

type layoutDetection struct {
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
	Area       *float64  `json:"area"`
	Text       string    `json:"text"`
}

// NewLayoutClient creates a client for the layout detection service
func NewLayoutClient(opts Options) (*LayoutClient, error) {
	c, err := newMultipartClient("LayoutClient", opts)
	if err != nil {
		return nil, err
	}
	return &LayoutClient{http: c}, nil
}

// Detect uploads the page image and returns the detected elements
func (c *LayoutClient) Detect(ctx context.Context, path string) (*models.LayoutPage, error) {
	var resp layoutResponse
	if err := c.http.postFile(ctx, "/detect", path, &resp); err != nil {
		return nil, err
	}

	page := &models.LayoutPage{
		Width:      resp.ImageSize.Width,
		Height:     resp.ImageSize.Height,
		Detections: make([]models.RawDetection, 0, len(resp.Detections)),
	}

	for i, d := range resp.Detections {
		if len(d.BBox) != 4 {
			return nil, fmt.Errorf("detection %d: bbox has %d values, expected 4", i, len(d.BBox))
		}
		bbox := models.BoundingBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}

		area := bbox.Area()
		if d.Area != nil {
			area = *d.Area
		}

		page.Detections = append(page.Detections, models.RawDetection{
			Label:      d.Class,
			BBox:       bbox,
			Confidence: d.Confidence,
			Area:       area,
			Text:       d.Text,
		})
	}

	c.http.logger.Debug("Layout detected",
		"path", path,
		"width", page.Width,
		"height", page.Height,
		"detections", len(page.Detections))

	return page, nil
}
