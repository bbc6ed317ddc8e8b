// Package extapi holds the connectors for the third-party services the
// pipeline's stations call: Telnyx number lookup, the skip-trace fallback,
// the Census demographics lookup, and the free people-search scraper. Each
// connector exposes exactly the narrow interface its station consumes.
package extapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telnyxBaseURL = "https://api.telnyx.com/v2"

// TelnyxClient calls the Telnyx number-lookup API to classify a phone
// number's line type. Implements stations.LineTypeChecker.
type TelnyxClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTelnyxClient builds a client. timeout bounds every lookup call.
func NewTelnyxClient(apiKey string, timeout time.Duration) *TelnyxClient {
	return &TelnyxClient{
		baseURL: telnyxBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type telnyxLookupResponse struct {
	Data struct {
		Carrier struct {
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"carrier"`
	} `json:"data"`
}

// CheckLineType reports whether phone is a mobile line. VOIP, landline,
// and unclassifiable numbers all report false — the gatekeeper station
// treats anything non-mobile as not worth spending further budget on.
func (c *TelnyxClient) CheckLineType(ctx context.Context, phone string) (bool, error) {
	endpoint := c.baseURL + "/number_lookup/" + url.PathEscape(phone) + "?type=carrier"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("telnyx: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("telnyx: lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("telnyx: lookup returned status %d", resp.StatusCode)
	}

	var parsed telnyxLookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("telnyx: decode response: %w", err)
	}

	return strings.EqualFold(parsed.Data.Carrier.Type, "mobile"), nil
}
