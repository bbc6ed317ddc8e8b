package stations

import (
	"context"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

// DemographicEnricher looks up demographic estimates for a location.
// extapi.CensusClient implements this.
type DemographicEnricher interface {
	EnrichDemographics(ctx context.Context, zipcode, city, state string) (map[string]any, error)
}

// DemographicsStation enriches the lead with census estimates keyed on
// zipcode (median income, an income-range label, median age). Strictly
// best-effort: no zipcode or a lookup failure produces an empty delta and
// the run continues, and census values never overwrite fields an earlier
// station already found.
type DemographicsStation struct {
	Census DemographicEnricher
}

func (DemographicsStation) Name() string             { return "demographics" }
func (DemographicsStation) RequiredInputs() []string { return nil }
func (DemographicsStation) ProducesOutputs() []string {
	return []string{lead.KeyAge, lead.KeyIncome, "income_range"}
}
func (s DemographicsStation) CostEstimate(pctx *pipeline.Context) float64 {
	if s.Census == nil || !pctx.Data.Has(lead.KeyZipcode) {
		return 0
	}
	return 0.01
}

func (s DemographicsStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	zipcode := pctx.Data.String(lead.KeyZipcode)
	if s.Census == nil || zipcode == "" {
		return nil, pipeline.Continue, nil
	}

	demographics, err := s.Census.EnrichDemographics(ctx, zipcode, pctx.Data.String(lead.KeyCity), pctx.Data.String(lead.KeyState))
	if err != nil {
		return nil, pipeline.Continue, nil
	}

	delta := map[string]any{}
	for key, value := range demographics {
		if !pctx.Data.Has(key) {
			delta[key] = value
		}
	}
	return delta, pipeline.Continue, nil
}
