package stations

import (
	"context"
	"encoding/json"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/router"
)

// BlueprintStore is the slice of blueprintstore.Store this station needs.
type BlueprintStore interface {
	Get(ctx context.Context, domain string) (blueprint json.RawMessage, ok bool, err error)
	RequestMapping(ctx context.Context, domain string) error
}

// ProviderSelector picks the provider Chimera is most likely to dispatch
// to, so the blueprint for that provider's domain can be preloaded.
type ProviderSelector interface {
	SelectProvider(ctx context.Context, state router.LeadState, tried []string, preferred string) (string, error)
}

// AutoMapper is the external collaborator that tries to discover a
// blueprint for a domain on demand (fetch the site, discover selectors,
// verify, commit). mapped is true when a blueprint was committed and the
// store can be re-read.
type AutoMapper interface {
	AttemptAutoMap(ctx context.Context, domain string) (mapped bool, err error)
}

// BlueprintLoaderStation resolves which provider domain Chimera will target
// next and makes sure a scraping blueprint exists for it: on a miss it
// gives the auto-mapper one shot at discovering one before queuing a
// manual mapping request.
type BlueprintLoaderStation struct {
	Store    BlueprintStore
	Selector ProviderSelector
	Mapper   AutoMapper
}

func (BlueprintLoaderStation) Name() string            { return "blueprint_loader" }
func (BlueprintLoaderStation) RequiredInputs() []string { return nil }
func (BlueprintLoaderStation) ProducesOutputs() []string {
	return []string{lead.KeyBlueprintDomain, lead.KeyBlueprint, lead.KeyMappingRequired}
}
func (BlueprintLoaderStation) CostEstimate(_ *pipeline.Context) float64 { return 0 }

func (s BlueprintLoaderStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	// Selection failure isn't fatal here: fall back to a stable default and
	// let Chimera redo the routing decision at dispatch time.
	provider := pctx.Data.String(lead.KeySelectedProvider)
	if provider == "" && s.Selector != nil {
		if p, err := s.Selector.SelectProvider(ctx, router.GetLeadState(pctx.Data), nil, ""); err == nil {
			provider = p
		}
	}
	if provider == "" {
		provider = "TruePeopleSearch"
	}

	domain, ok := router.ProviderDomains[provider]
	if !ok {
		domain = router.ProviderDomains["TruePeopleSearch"]
	}

	delta := map[string]any{
		lead.KeySelectedProvider: provider,
		lead.KeyBlueprintDomain:  domain,
	}

	blueprint, ok, err := s.Store.Get(ctx, domain)
	if err != nil {
		return delta, pipeline.Continue, &pipeline.StationError{
			Step:   "blueprint_loader",
			Reason: "blueprint lookup failed: " + err.Error(),
			Cause:  err,
		}
	}
	if !ok {
		// One auto-map attempt before conceding to manual mapping; a
		// successful attempt commits the blueprint, so re-read the store.
		if s.Mapper != nil {
			if mapped, mapErr := s.Mapper.AttemptAutoMap(ctx, domain); mapErr == nil && mapped {
				blueprint, ok, err = s.Store.Get(ctx, domain)
				if err != nil {
					return delta, pipeline.Continue, &pipeline.StationError{
						Step:   "blueprint_loader",
						Reason: "blueprint re-read after auto-map failed: " + err.Error(),
						Cause:  err,
					}
				}
			}
		}
	}
	if !ok {
		delta[lead.KeyMappingRequired] = true
		if err := s.Store.RequestMapping(ctx, domain); err != nil {
			return delta, pipeline.Continue, &pipeline.StationError{
				Step:         "blueprint_loader",
				Reason:       "failed to queue blueprint mapping request: " + err.Error(),
				SuggestedFix: "check Redis connectivity for the dojo:* side-channel keys",
				Cause:        err,
			}
		}
		return delta, pipeline.Continue, nil
	}

	delta[lead.KeyBlueprint] = string(blueprint)
	return delta, pipeline.Continue, nil
}
