package pipeline_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

type fakeStation struct {
	name     string
	required []string
	produces []string
	cost     float64
	delta    map[string]any
	stop     pipeline.StopCondition
	err      error
	calls    *int
}

func (s *fakeStation) Name() string                                     { return s.name }
func (s *fakeStation) RequiredInputs() []string                         { return s.required }
func (s *fakeStation) ProducesOutputs() []string                        { return s.produces }
func (s *fakeStation) CostEstimate(_ *pipeline.Context) float64         { return s.cost }
func (s *fakeStation) Process(_ context.Context, _ *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	if s.calls != nil {
		*s.calls++
	}
	return s.delta, s.stop, s.err
}

func TestEngineRunMergesDeltasInOrder(t *testing.T) {
	s1 := &fakeStation{name: "identity", delta: map[string]any{"city": "Austin"}}
	s2 := &fakeStation{name: "demographics", required: []string{"city"}, delta: map[string]any{"age": 42.0}}

	e := pipeline.NewEngine("test", []pipeline.Station{s1, s2})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 5.0, nil)

	out := e.Run(context.Background(), pctx)

	require.Equal(t, "Austin", out.String("city"))
	age, ok := out.Float("age")
	require.True(t, ok)
	require.Equal(t, 42.0, age)
	require.Equal(t, []string{"identity", "demographics"}, pctx.History)
}

func TestEngineSkipsStationMissingRequiredInput(t *testing.T) {
	calls := 0
	s1 := &fakeStation{name: "needs_phone", required: []string{"phone"}, calls: &calls}

	e := pipeline.NewEngine("test", []pipeline.Station{s1})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 5.0, nil)

	e.Run(context.Background(), pctx)

	require.Equal(t, 0, calls)
	require.Empty(t, pctx.History)
}

func TestEngineRecordsMissingPrerequisiteAsNonFatal(t *testing.T) {
	calls := 0
	s1 := &fakeStation{name: "needs_phone", required: []string{"phone"}, calls: &calls}
	s2 := &fakeStation{name: "runs_anyway", calls: &calls}

	e := pipeline.NewEngine("test", []pipeline.Station{s1, s2})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 5.0, nil)

	e.Run(context.Background(), pctx)

	require.Equal(t, 1, calls)
	require.Len(t, pctx.Errors, 1)
	require.Equal(t, "needs_phone", pctx.Errors[0].Step)
	require.Equal(t, "missing prerequisites", pctx.Errors[0].Reason)
	require.Equal(t, []string{"runs_anyway"}, pctx.History)
}

func TestEngineStopsOnBudgetExhaustion(t *testing.T) {
	calls := 0
	expensive := &fakeStation{name: "skiptrace", cost: 10.0, calls: &calls}
	after := &fakeStation{name: "never_runs", calls: &calls}

	e := pipeline.NewEngine("test", []pipeline.Station{expensive, after})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 1.0, nil)

	e.Run(context.Background(), pctx)

	require.Equal(t, 0, calls)
	require.Len(t, pctx.Errors, 1)
	require.Equal(t, "skiptrace", pctx.Errors[0].Step)
}

func TestEngineSkipRemainingStopsEarly(t *testing.T) {
	calls := 0
	s1 := &fakeStation{name: "dnc_gate", stop: pipeline.SkipRemaining}
	s2 := &fakeStation{name: "database_save", calls: &calls}

	e := pipeline.NewEngine("test", []pipeline.Station{s1, s2})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 5.0, nil)

	e.Run(context.Background(), pctx)

	require.Equal(t, 0, calls)
	require.Equal(t, []string{"dnc_gate"}, pctx.History)
}

func TestEngineFailContinuesToNextStation(t *testing.T) {
	calls := 0
	failing := &fakeStation{name: "chimera", stop: pipeline.Fail, err: errors.New("provider timeout")}
	after := &fakeStation{name: "database_save", calls: &calls}

	e := pipeline.NewEngine("test", []pipeline.Station{failing, after})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 5.0, nil)

	e.Run(context.Background(), pctx)

	require.Equal(t, 1, calls)
	require.Len(t, pctx.Errors, 1)
	require.Equal(t, "chimera", pctx.Errors[0].Step)
}

func TestEngineRecordsPipelineMetadataOnRecord(t *testing.T) {
	s1 := &fakeStation{name: "identity", cost: 0.5}
	e := pipeline.NewEngine("test", []pipeline.Station{s1})
	pctx := pipeline.NewContext(lead.New(map[string]any{"name": "Jane Doe"}), 5.0, nil)

	out := e.Run(context.Background(), pctx)

	require.Equal(t, 0.5, out[lead.KeyPipelineCost])
	require.Equal(t, []string{"identity"}, out[lead.KeyPipelineStations])
}
