package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"parley/internal/config"
	"parley/internal/core/domain"
)

type VisionClient struct {
	URL    string
	APIKey string
	Model  string
	client *http.Client
}

func NewVisionClient(
	cfg config.VisionConfig,
) *VisionClient {
	return &VisionClient{
		URL:    cfg.URL,
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type annotateRequest struct {
	Requests []annotateEntry `json:"requests"`
}

type annotateEntry struct {
	Image    annotateImage `json:"image"`
	Features []feature     `json:"features"`
}

type annotateImage struct {
	// []byte marshals to base64, which is what the API expects.
	Content []byte `json:"content"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults"`
}

type annotateResponse struct {
	Responses []struct {
		LabelAnnotations []struct {
			Description string  `json:"description"`
			Score       float64 `json:"score"`
		} `json:"labelAnnotations"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

// Analyze sends the image for label detection and flattens the annotations
// into one description line.
func (v *VisionClient) Analyze(ctx context.Context, job domain.ImageJob) (string, error) {
	body := annotateRequest{
		Requests: []annotateEntry{{
			Image:    annotateImage{Content: job.Data},
			Features: []feature{{Type: "LABEL_DETECTION", MaxResults: 10}},
		}},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", v.URL+"?key="+v.APIKey, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("vision error: status %d", resp.StatusCode)
	}

	var result annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Responses) == 0 {
		return "", fmt.Errorf("vision error: empty response")
	}
	if apiErr := result.Responses[0].Error; apiErr != nil {
		return "", fmt.Errorf("vision error: %s", apiErr.Message)
	}

	labels := make([]string, 0, len(result.Responses[0].LabelAnnotations))
	for _, l := range result.Responses[0].LabelAnnotations {
		labels = append(labels, l.Description)
	}
	if len(labels) == 0 {
		return "no labels detected", nil
	}
	return strings.Join(labels, ", "), nil
}
