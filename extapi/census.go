package extapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// censusBaseURL serves the ACS 5-year estimates; B19013_001E is median
// household income and B01002_001E is median age, both available per ZCTA.
const censusBaseURL = "https://api.census.gov/data/2023/acs/acs5"

// CensusClient looks up demographic estimates for a zipcode. Implements
// stations.DemographicEnricher. An API key is optional — the Census API
// allows keyless access at low volume.
type CensusClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCensusClient builds a client. timeout bounds every lookup call.
func NewCensusClient(apiKey string, timeout time.Duration) *CensusClient {
	return &CensusClient{
		baseURL: censusBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// EnrichDemographics returns median income, an income range label, and
// median age for the lead's zipcode. Missing or suppressed estimates are
// simply absent from the result, never zero-valued.
func (c *CensusClient) EnrichDemographics(ctx context.Context, zipcode, _, _ string) (map[string]any, error) {
	endpoint := c.baseURL +
		"?get=B19013_001E,B01002_001E&for=zip%20code%20tabulation%20area:" + url.QueryEscape(zipcode)
	if c.apiKey != "" {
		endpoint += "&key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("census: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("census: lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("census: lookup returned status %d", resp.StatusCode)
	}

	// The API replies with a header row then one data row:
	// [["B19013_001E","B01002_001E","zip code tabulation area"],["68191","34.6","78701"]]
	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("census: decode response: %w", err)
	}
	if len(rows) < 2 || len(rows[1]) < 2 {
		return nil, nil
	}

	out := map[string]any{}
	if income, err := strconv.ParseFloat(rows[1][0], 64); err == nil && income > 0 {
		out["income"] = income
		out["income_range"] = incomeRange(income)
	}
	if age, err := strconv.ParseFloat(rows[1][1], 64); err == nil && age > 0 {
		out["age"] = age
	}
	return out, nil
}

// incomeRange buckets a median household income into the coarse labels the
// Golden Record carries.
func incomeRange(income float64) string {
	switch {
	case income < 35000:
		return "<$35k"
	case income < 75000:
		return "$35k-$75k"
	case income < 150000:
		return "$75k-$150k"
	default:
		return "$150k+"
	}
}
