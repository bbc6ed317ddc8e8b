package stations

import (
	"context"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

// SkipTracer is the paid-lookup client a SkipTracingStation dispatches to
// when Chimera and the free providers came back without a phone number.
type SkipTracer interface {
	FindPhone(ctx context.Context, name, city, state string) (phone string, err error)
}

// SkipTracingStation is the last-resort paid lookup for a lead that still
// has no phone number after the free-provider pipeline. It only runs (and
// only costs money) when KeyPhone is still missing.
type SkipTracingStation struct {
	Tracer SkipTracer
	Cost   float64
}

func (SkipTracingStation) Name() string            { return "skip_tracing" }
func (SkipTracingStation) RequiredInputs() []string { return []string{lead.KeyName} }
func (SkipTracingStation) ProducesOutputs() []string {
	return []string{lead.KeyPhone}
}
func (s SkipTracingStation) CostEstimate(pctx *pipeline.Context) float64 {
	if pctx.Data.Has(lead.KeyPhone) {
		return 0
	}
	return s.Cost
}

func (s SkipTracingStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	if pctx.Data.Has(lead.KeyPhone) {
		return nil, pipeline.Continue, nil
	}
	if s.Tracer == nil {
		return nil, pipeline.Continue, nil
	}

	phone, err := s.Tracer.FindPhone(ctx, pctx.Data.String(lead.KeyName), pctx.Data.String(lead.KeyCity), pctx.Data.String(lead.KeyState))
	if err != nil {
		return nil, pipeline.Fail, &pipeline.StationError{
			Step:         "skip_tracing",
			Reason:       "skip trace lookup failed: " + err.Error(),
			SuggestedFix: "verify the skip-trace provider credentials and quota",
			Cause:        err,
		}
	}
	if phone == "" {
		return nil, pipeline.Fail, &pipeline.StationError{
			Step:         "skip_tracing",
			Reason:       "skip trace returned no phone for this identity",
			SuggestedFix: "verify the lead's name and location are accurate",
		}
	}
	return map[string]any{lead.KeyPhone: phone}, pipeline.Continue, nil
}
