package stations

import (
	"context"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

// ScrapeEnricher runs free HTML extraction against people-search sites for
// an identity. extapi.ScraperClient implements this.
type ScrapeEnricher interface {
	ScrapeEnrich(ctx context.Context, identity map[string]any) (map[string]any, error)
}

// ScraperEnrichmentStation is the free enrichment path: scrape the
// people-search sites directly for phone, age, income, address, and email
// before any paid fallback runs. Non-critical by design — a scrape failure
// is swallowed and the pipeline moves on to skip tracing.
type ScraperEnrichmentStation struct {
	Enricher ScrapeEnricher
}

func (ScraperEnrichmentStation) Name() string { return "scraper_enrichment" }
func (ScraperEnrichmentStation) RequiredInputs() []string {
	return []string{lead.KeyFirstName, lead.KeyLastName, lead.KeyCity, lead.KeyState}
}
func (ScraperEnrichmentStation) ProducesOutputs() []string {
	return []string{lead.KeyPhone, lead.KeyAge, lead.KeyIncome, "address", lead.KeyEmail}
}
func (ScraperEnrichmentStation) CostEstimate(_ *pipeline.Context) float64 { return 0 }

func (s ScraperEnrichmentStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	if s.Enricher == nil {
		return nil, pipeline.Continue, nil
	}
	if pctx.Data.Has(lead.KeyPhone) {
		// A dispatch already found the phone; no reason to burn proxy
		// traffic on the free path.
		return nil, pipeline.Continue, nil
	}

	result, err := s.Enricher.ScrapeEnrich(ctx, pctx.Data)
	if err != nil {
		return nil, pipeline.Continue, nil
	}

	delta := map[string]any{}
	for key, value := range result {
		if !pctx.Data.Has(key) {
			delta[key] = value
		}
	}
	return delta, pipeline.Continue, nil
}
