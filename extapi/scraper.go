package extapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// BlueprintSource provides the per-domain selector blueprint the scraper
// drives each people-search site with. blueprintstore.Store implements
// this.
type BlueprintSource interface {
	Get(ctx context.Context, domain string) (blueprint json.RawMessage, ok bool, err error)
}

// ScraperClient does free HTML extraction against the people-search sites
// that have a committed blueprint: build the site's search URL from the
// lead's identity, fetch the page, and pull fields out with the
// blueprint's CSS selectors. Implements stations.ScrapeEnricher.
type ScraperClient struct {
	blueprints BlueprintSource
	domains    []string
	client     *http.Client
}

// NewScraperClient builds a client that tries domains in order. timeout
// bounds each page fetch.
func NewScraperClient(blueprints BlueprintSource, domains []string, timeout time.Duration) *ScraperClient {
	return &ScraperClient{
		blueprints: blueprints,
		domains:    domains,
		client:     &http.Client{Timeout: timeout},
	}
}

// scraperBlueprint is the subset of a blueprint the HTTP scraper can use:
// a URL template with {firstName}/{lastName}/{city}/{state} placeholders
// and a field → CSS selector map.
type scraperBlueprint struct {
	TargetURL string            `json:"targetUrl"`
	Selectors map[string]string `json:"selectors"`
}

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	nonDigits    = regexp.MustCompile(`\D`)
)

// ScrapeEnrich walks the configured domains until one yields a phone
// number, returning whatever partial fields the best attempt produced.
// A site without a usable blueprint, or one that fails to fetch, is
// skipped — this is the free path, so every miss is tolerable.
func (c *ScraperClient) ScrapeEnrich(ctx context.Context, identity map[string]any) (map[string]any, error) {
	var best map[string]any
	for _, domain := range c.domains {
		raw, ok, err := c.blueprints.Get(ctx, domain)
		if err != nil || !ok {
			continue
		}
		var bp scraperBlueprint
		if err := json.Unmarshal(raw, &bp); err != nil || bp.TargetURL == "" || len(bp.Selectors) == 0 {
			continue
		}

		out, err := c.scrapeSite(ctx, bp, identity)
		if err != nil {
			continue
		}
		if out["phone"] != nil {
			return out, nil
		}
		if len(out) > len(best) {
			best = out
		}
	}
	return best, nil
}

func (c *ScraperClient) scrapeSite(ctx context.Context, bp scraperBlueprint, identity map[string]any) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildTargetURL(bp.TargetURL, identity), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	for field, selector := range bp.Selectors {
		text := strings.TrimSpace(doc.Find(selector).First().Text())
		if text == "" {
			continue
		}
		out[field] = normalizeScraped(field, text)
	}
	return out, nil
}

// buildTargetURL substitutes {firstName}-style placeholders with slugified
// identity values, matching the URL shapes people-search sites use
// ("/john-doe/austin-tx").
func buildTargetURL(template string, identity map[string]any) string {
	url := template
	for _, key := range []string{"firstName", "lastName", "city", "state", "name"} {
		if v, ok := identity[key].(string); ok {
			url = strings.ReplaceAll(url, "{"+key+"}", slugify(v))
		}
	}
	return url
}

func slugify(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// normalizeScraped cleans a raw on-page value per field: phones keep only
// digits, everything else keeps collapsed whitespace.
func normalizeScraped(field, text string) any {
	if field == "phone" {
		digits := nonDigits.ReplaceAllString(text, "")
		if len(digits) == 11 && strings.HasPrefix(digits, "1") {
			digits = digits[1:]
		}
		return digits
	}
	return strings.Join(strings.Fields(text), " ")
}
