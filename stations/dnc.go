package stations

import (
	"context"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

// DNCGatekeeperStation is a deliberate no-op: the resolved open question on
// Do-Not-Call scrubbing is that this core does not integrate a DNC registry
// API today, but the contact-eligibility field and the station slot stay in
// place so a real scrubber can be dropped in here without touching the
// rest of the pipeline.
type DNCGatekeeperStation struct{}

func (DNCGatekeeperStation) Name() string            { return "dnc_gatekeeper" }
func (DNCGatekeeperStation) RequiredInputs() []string { return nil }
func (DNCGatekeeperStation) ProducesOutputs() []string {
	return []string{lead.KeyDNCStatus, lead.KeyCanContact}
}
func (DNCGatekeeperStation) CostEstimate(_ *pipeline.Context) float64 { return 0 }

func (DNCGatekeeperStation) Process(_ context.Context, _ *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	return map[string]any{
		lead.KeyDNCStatus:  "SKIPPED",
		lead.KeyCanContact: true,
	}, pipeline.Continue, nil
}
