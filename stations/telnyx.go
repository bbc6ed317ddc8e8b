package stations

import (
	"context"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

// LineTypeChecker validates whether a phone number is a live, contactable
// mobile line.
type LineTypeChecker interface {
	CheckLineType(ctx context.Context, phone string) (mobile bool, err error)
}

// TelnyxGatekeepStation validates the lead's phone number is a real mobile
// line before it's allowed downstream to compliance screening. Per the
// resolved design decision, a checker error fails open — the lead proceeds
// unvalidated rather than getting stuck on a third-party outage — and the
// failure is recorded as a non-fatal pipeline error for visibility.
type TelnyxGatekeepStation struct {
	Checker LineTypeChecker
}

func (TelnyxGatekeepStation) Name() string            { return "telnyx_gatekeep" }
func (TelnyxGatekeepStation) RequiredInputs() []string { return []string{lead.KeyPhone} }
func (TelnyxGatekeepStation) ProducesOutputs() []string {
	return []string{"phone_line_type_checked", "phone_is_mobile"}
}
func (TelnyxGatekeepStation) CostEstimate(_ *pipeline.Context) float64 { return 0.02 }

func (s TelnyxGatekeepStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	if s.Checker == nil {
		return map[string]any{"phone_line_type_checked": false}, pipeline.Continue, nil
	}

	mobile, err := s.Checker.CheckLineType(ctx, pctx.Data.String(lead.KeyPhone))
	if err != nil {
		return map[string]any{"phone_line_type_checked": false}, pipeline.Continue, &pipeline.StationError{
			Step:         "telnyx_gatekeep",
			Reason:       "line type check failed, proceeding unvalidated: " + err.Error(),
			SuggestedFix: "check Telnyx API credentials and service status",
			Cause:        err,
		}
	}

	if !mobile {
		// A VOIP, landline, or junk number isn't contactable for this
		// product: stop spending on the lead and end the run here.
		return map[string]any{
			"phone_line_type_checked":  true,
			"phone_is_mobile":          false,
			lead.KeyValidationRejected: true,
		}, pipeline.SkipRemaining, nil
	}

	return map[string]any{
		"phone_line_type_checked": true,
		"phone_is_mobile":         true,
	}, pipeline.Continue, nil
}
