package stations

import (
	"context"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

// Saver persists a finished lead record. storage.PostgresStore implements
// this.
type Saver interface {
	Save(ctx context.Context, r lead.Record) error
}

// DatabaseSaveStation is the terminal station: it persists the Golden
// Record and marks the lead saved. Requires a linkedin_url since that's
// the persistence layer's upsert key.
type DatabaseSaveStation struct {
	Store Saver
}

func (DatabaseSaveStation) Name() string            { return "database_save" }
func (DatabaseSaveStation) RequiredInputs() []string { return []string{lead.KeyLinkedInURL} }
func (DatabaseSaveStation) ProducesOutputs() []string {
	return []string{lead.KeySaved}
}
func (DatabaseSaveStation) CostEstimate(_ *pipeline.Context) float64 { return 0 }

func (s DatabaseSaveStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	if s.Store == nil {
		return map[string]any{lead.KeySaved: false}, pipeline.Continue, nil
	}

	if err := s.Store.Save(ctx, pctx.Data); err != nil {
		return map[string]any{lead.KeySaved: false}, pipeline.Fail, &pipeline.StationError{
			Step:         "database_save",
			Reason:       "failed to persist lead: " + err.Error(),
			SuggestedFix: "check Postgres connectivity",
			Cause:        err,
		}
	}

	return map[string]any{lead.KeySaved: true}, pipeline.Continue, nil
}
