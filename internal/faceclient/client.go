package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"presence/internal/marking"
)

// CompareResult contains the face comparison decision from the service.
type CompareResult struct {
	Similarity float64 `json:"similarity"`
	Distance   float64 `json:"distance"`
	Match      bool    `json:"match"`
	Threshold  float64 `json:"threshold"`
}

// Client calls the face recognition microservice. It satisfies
// marking.Verifier, so the workflow consumes it purely as a capability.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with a positive mock
// result for local development without the face service running.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
	}
}

// Compare compares two face images and returns the match decision.
func (c *Client) Compare(ctx context.Context, capturedURL, referenceURL string) (*CompareResult, error) {
	if c.Skip {
		return &CompareResult{
			Similarity: 0.85,
			Distance:   0.31,
			Match:      true,
			Threshold:  0.6,
		}, nil
	}
	if capturedURL == "" || referenceURL == "" {
		return nil, fmt.Errorf("both image urls required")
	}

	body, _ := json.Marshal(map[string]string{
		"image_url_1": capturedURL,
		"image_url_2": referenceURL,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/compare", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out CompareResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &out, nil
}

// Verify implements marking.Verifier on top of Compare.
func (c *Client) Verify(ctx context.Context, capturedImage, referenceImage string) (marking.MatchResult, error) {
	res, err := c.Compare(ctx, capturedImage, referenceImage)
	if err != nil {
		return marking.MatchResult{}, err
	}
	distance := res.Distance
	return marking.MatchResult{IsMatch: res.Match, Distance: &distance}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}

	return nil
}
