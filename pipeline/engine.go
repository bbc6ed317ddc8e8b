package pipeline

import (
	"context"
	"time"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/metrics"
)

// Engine runs an ordered list of stations against a lead record.
type Engine struct {
	Name     string
	Stations []Station
}

// NewEngine builds an engine from a name and an ordered station list.
func NewEngine(name string, stations []Station) *Engine {
	return &Engine{Name: name, Stations: stations}
}

// Run executes every station in order against pctx.Data, honoring each
// station's required inputs, its cost estimate against the remaining
// budget, and its returned stop condition. A station missing a required
// input is not run: a non-fatal StationError is recorded and the run moves
// on. A station whose cost estimate no longer fits the remaining budget
// ends the run, also recording a StationError. A station that runs and
// returns an error has that error recorded.
//
// On return, pctx carries the run's total cost, the ordered list of
// stations that executed, and any station errors encountered. The final
// lead.Record reflects every delta merged along the way.
func (e *Engine) Run(ctx context.Context, pctx *Context) lead.Record {
	lead.ResolveName(pctx.Data)

	total := len(e.Stations)
	for i, station := range e.Stations {
		name := station.Name()

		if !HasRequiredInputs(station, pctx.Data) {
			// Declined, not failed: the station never starts, the record is
			// untouched, and the run carries on. Recorded so a triager can
			// see why a station contributed nothing.
			serr := &StationError{Step: name, Reason: "missing prerequisites"}
			pctx.Errors = append(pctx.Errors, serr)
			e.emit(pctx, name, i, total, 0, Fail, serr)
			continue
		}

		cost := station.CostEstimate(pctx)
		if !pctx.CanAfford(cost) {
			pctx.Errors = append(pctx.Errors, &StationError{
				Step:         name,
				Reason:       "budget exhausted",
				SuggestedFix: "raise PIPELINE_BUDGET_LIMIT or drop a downstream paid station",
			})
			e.emit(pctx, name, i, total, 0, Fail, pctx.Errors[len(pctx.Errors)-1])
			break
		}

		start := time.Now()
		delta, stop, err := station.Process(ctx, pctx)
		durationMS := elapsedMS(start)
		metrics.StationDuration.WithLabelValues(name).Observe(float64(durationMS) / 1000)

		pctx.TotalCost += cost
		pctx.History = append(pctx.History, name)

		if delta != nil {
			pctx.Data.Merge(delta)
		}

		var serr *StationError
		if err != nil {
			serr = asStationError(name, err)
			pctx.Errors = append(pctx.Errors, serr)
			metrics.StationErrors.WithLabelValues(name).Inc()
		}

		e.emit(pctx, name, i, total, durationMS, stop, serr)

		if stop == SkipRemaining {
			break
		}
	}

	pctx.Data[lead.KeyPipelineCost] = pctx.TotalCost
	pctx.Data[lead.KeyPipelineStations] = append([]string(nil), pctx.History...)
	pctx.Data[lead.KeyPipelineErrors] = len(pctx.Errors)
	return pctx.Data
}

func (e *Engine) emit(pctx *Context, step string, idx, total int, durationMS int64, stop StopCondition, serr *StationError) {
	if pctx.Progress == nil {
		return
	}
	select {
	case pctx.Progress <- ProgressEvent{
		Step:       step,
		Index:      idx,
		Total:      total,
		DurationMS: durationMS,
		Stop:       stop,
		Err:        serr,
	}:
	default:
	}
}

func asStationError(step string, err error) *StationError {
	if se, ok := err.(*StationError); ok {
		return se
	}
	return &StationError{Step: step, Reason: err.Error(), Cause: err}
}
