// Package pipeline implements the sequential station executor: a fixed list
// of named stations, each declaring the inputs it requires and the outputs
// it produces, run in order against a shared lead record under a cost
// budget. A station whose required inputs are missing is skipped and the
// run goes on; a station that can't afford to run ends the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/scrapeshifter/goldenrecord/lead"
)

// StopCondition tells the engine what to do after a station runs.
type StopCondition int

const (
	// Continue runs the next station normally.
	Continue StopCondition = iota
	// SkipRemaining ends the run successfully without running later stations.
	SkipRemaining
	// Fail marks the station as failed; the run continues with the next
	// station.
	Fail
)

// StationError is the structured error a station returns when it cannot
// complete. It implements error and Unwrap so callers can log a single
// string or pull the structured fields out with errors.As.
type StationError struct {
	Step         string
	Reason       string
	SuggestedFix string
	Cause        error
}

func (e *StationError) Error() string {
	if e.SuggestedFix != "" {
		return fmt.Sprintf("%s: %s (suggested fix: %s)", e.Step, e.Reason, e.SuggestedFix)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

func (e *StationError) Unwrap() error { return e.Cause }

// ProgressEvent is emitted to the progress sink for each station the engine
// reaches: after it runs, when it is declined for missing inputs, or when the
// budget stops the run there. Stations may also forward substep events.
type ProgressEvent struct {
	Step       string
	Index      int
	Total      int
	DurationMS int64
	Stop       StopCondition
	Err        *StationError
}

// Context is the mutable state threaded through a single pipeline run.
type Context struct {
	Data        lead.Record
	BudgetLimit float64
	TotalCost   float64
	History     []string
	Errors      []*StationError

	// Progress receives the engine's per-station events and any substep
	// events a station forwards. The engine never blocks on it: an event is
	// dropped when the channel is not ready. May be nil.
	Progress chan<- ProgressEvent
}

// NewContext builds a run context from an initial lead record and budget.
func NewContext(initial lead.Record, budgetLimit float64, progress chan<- ProgressEvent) *Context {
	return &Context{
		Data:        initial,
		BudgetLimit: budgetLimit,
		Progress:    progress,
	}
}

// CanAfford reports whether cost can still be spent without exceeding the
// run's budget.
func (c *Context) CanAfford(cost float64) bool {
	return c.TotalCost+cost <= c.BudgetLimit
}

// Station is the contract every pipeline step implements.
type Station interface {
	Name() string
	RequiredInputs() []string
	ProducesOutputs() []string
	CostEstimate(ctx *Context) float64
	Process(ctx context.Context, pctx *Context) (delta map[string]any, stop StopCondition, err error)
}

// HasRequiredInputs reports whether every input a station declares as
// required is present and non-nil on the record.
func HasRequiredInputs(s Station, data lead.Record) bool {
	for _, k := range s.RequiredInputs() {
		if !data.Has(k) {
			return false
		}
	}
	return true
}

// elapsedMS is split out so tests can stub timing if ever needed; today it's
// a thin wrapper around time.Since.
func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
