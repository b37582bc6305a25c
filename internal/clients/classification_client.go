package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

// ClassificationClient calls the document classification API (POST /classify)
type ClassificationClient struct {
	http *multipartClient
}

// classifyResponse accepts both the current schema, where the score is in
// "probability" and "confidence" is a level name, and the older one that
// carried the score in "confidence"
type classifyResponse struct {
	PredictedType string          `json:"predicted_type"`
	Probability   *float64        `json:"probability"`
	Confidence    json.RawMessage `json:"confidence"`
}

// NewClassificationClient creates a client for the classification API
func NewClassificationClient(opts Options) (*ClassificationClient, error) {
	c, err := newMultipartClient("ClassificationClient", opts)
	if err != nil {
		return nil, err
	}
	return &ClassificationClient{http: c}, nil
}

// Classify uploads the document and returns its category
func (c *ClassificationClient) Classify(ctx context.Context, path string) (*models.Classification, error) {
	var resp classifyResponse
	if err := c.http.postFile(ctx, "/classify", path, &resp); err != nil {
		return nil, err
	}

	category := strings.TrimSpace(resp.PredictedType)
	if category == "" {
		return nil, fmt.Errorf("classification response has no predicted_type")
	}

	confidence, err := resp.score()
	if err != nil {
		return nil, err
	}

	c.http.logger.Info("Document classified",
		"path", path,
		"category", category,
		"confidence", confidence)

	return &models.Classification{Category: category, Confidence: confidence}, nil
}

func (r *classifyResponse) score() (float64, error) {
	if r.Probability != nil {
		return *r.Probability, nil
	}
	if len(r.Confidence) > 0 {
		var v float64
		if err := json.Unmarshal(r.Confidence, &v); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("classification response has no numeric score")
}
