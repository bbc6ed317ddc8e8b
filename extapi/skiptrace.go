package extapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SkipTraceClient calls a paid skip-tracing API to find a phone number for
// a person by name and location. Implements stations.SkipTracer.
type SkipTraceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewSkipTraceClient builds a client against the configured endpoint.
func NewSkipTraceClient(baseURL, apiKey string, timeout time.Duration) *SkipTraceClient {
	return &SkipTraceClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type skipTraceRequest struct {
	Name  string `json:"name"`
	City  string `json:"city,omitempty"`
	State string `json:"state,omitempty"`
}

type skipTraceResponse struct {
	Phone string `json:"phone"`
}

// FindPhone returns the best phone number the trace found, or "" when the
// person couldn't be located (not an error).
func (c *SkipTraceClient) FindPhone(ctx context.Context, name, city, state string) (string, error) {
	body, err := json.Marshal(skipTraceRequest{Name: name, City: city, State: state})
	if err != nil {
		return "", fmt.Errorf("skiptrace: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/trace", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("skiptrace: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("skiptrace: lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("skiptrace: lookup returned status %d", resp.StatusCode)
	}

	var parsed skipTraceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("skiptrace: decode response: %w", err)
	}
	return parsed.Phone, nil
}
