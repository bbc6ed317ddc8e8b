// Package runregistry tracks in-flight and completed pipeline runs kicked
// off through the HTTP API: each run gets a Redis-backed status record and
// a pub/sub channel of progress events that an HTTP handler can adapt into
// an NDJSON stream for a caller polling a long-running enrichment.
package runregistry

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
)

const runTTL = 1 * time.Hour

// Keys a run function may set on its result record to describe why the run
// didn't produce a saved lead; they're copied onto the terminal stream
// event.
const (
	KeyFailureMode = "_failure_mode"
	KeyFailureAt   = "_failure_at"
	KeyFailureHint = "_failure_hint"
)

// Status values a run record can hold.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// FailureMode classifies why a run didn't produce a usable result, per the
// taxonomy a human triaging failed runs works from.
type FailureMode string

const (
	FailureMapping     FailureMode = "MAPPING"
	FailureSelector    FailureMode = "SELECTOR"
	FailureCaptcha     FailureMode = "CAPTCHA"
	FailureCoreTimeout FailureMode = "CORE_TIMEOUT"
	FailureCoreResult  FailureMode = "CORE_RESULT"
	FailureDownstream  FailureMode = "DOWNSTREAM"
	FailureEmpty       FailureMode = "EMPTY"
	FailureStartup     FailureMode = "STARTUP"
	FailureUnknown     FailureMode = "UNKNOWN"
)

// RunFunc executes a pipeline run, emitting progress events as it goes, and
// returns the final lead record.
type RunFunc func(ctx context.Context, progress chan<- pipeline.ProgressEvent) (map[string]any, error)

// Record is the public view of a run's status.
type Record struct {
	RunID    string         `json:"run_id"`
	Status   string         `json:"status"`
	Progress string         `json:"progress,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Registry persists run records and fans out progress events.
type Registry struct {
	kv *kv.Client
}

// New builds a Registry.
func New(client *kv.Client) *Registry {
	return &Registry{kv: client}
}

func runKey(runID string) string        { return "enrich:run:" + runID }
func eventsChannel(runID string) string { return "enrich:run:" + runID + ":events" }

// Start creates a new run record, launches fn in its own goroutine (one
// thread per run rather than cooperative scheduling against shared state),
// and returns the run id immediately.
func (r *Registry) Start(ctx context.Context, fn RunFunc) (string, error) {
	runID := uuid.NewString()

	if err := r.writeStatus(context.Background(), runID, StatusRunning, "", nil, ""); err != nil {
		return "", err
	}

	go func() {
		progress := make(chan pipeline.ProgressEvent, 16)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for ev := range progress {
				r.publishProgress(runID, ev)
			}
		}()

		result, err := fn(ctx, progress)
		close(progress)
		<-done

		if err != nil {
			_ = r.writeStatus(context.Background(), runID, StatusFailed, "", nil, err.Error())
			r.publishTerminal(runID, StatusFailed, nil)
			return
		}
		_ = r.writeStatus(context.Background(), runID, StatusCompleted, "", result, "")
		r.publishTerminal(runID, StatusCompleted, result)
	}()

	return runID, nil
}

func (r *Registry) writeStatus(ctx context.Context, runID, status, progress string, result map[string]any, errMsg string) error {
	fields := map[string]any{"status": status}
	if progress != "" {
		fields["progress"] = progress
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	if result != nil {
		raw, _ := json.Marshal(result)
		fields["result"] = string(raw)
	}
	if err := r.kv.HSet(ctx, runKey(runID), fields); err != nil {
		return err
	}
	return r.kv.Expire(ctx, runKey(runID), runTTL)
}

func (r *Registry) publishProgress(runID string, ev pipeline.ProgressEvent) {
	ctx := context.Background()
	progress := ev.Step
	_ = r.writeStatus(ctx, runID, StatusRunning, progress, nil, "")

	payload, _ := json.Marshal(map[string]any{
		"type":        "progress",
		"step":        ev.Step,
		"index":       ev.Index,
		"total":       ev.Total,
		"duration_ms": ev.DurationMS,
	})
	_ = r.kv.Publish(ctx, eventsChannel(runID), string(payload))
}

func (r *Registry) publishTerminal(runID, status string, result map[string]any) {
	ev := map[string]any{"type": "done", "status": status, "success": false}
	if result != nil {
		if saved, ok := result[lead.KeySaved].(bool); ok && saved {
			ev["success"] = true
		}
		for _, k := range []string{KeyFailureMode, KeyFailureAt, KeyFailureHint} {
			if v, ok := result[k]; ok {
				ev[k] = v
			}
		}
	}
	payload, _ := json.Marshal(ev)
	_ = r.kv.Publish(context.Background(), eventsChannel(runID), string(payload))
}

// Get reads the current status of a run.
func (r *Registry) Get(ctx context.Context, runID string) (Record, bool, error) {
	fields, err := r.kv.HGetAll(ctx, runKey(runID))
	if err != nil {
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	rec := Record{RunID: runID, Status: fields["status"], Progress: fields["progress"], Error: fields["error"]}
	if raw, ok := fields["result"]; ok && raw != "" {
		var result map[string]any
		if err := json.Unmarshal([]byte(raw), &result); err == nil {
			rec.Result = result
		}
	}
	return rec, true, nil
}

// Stream subscribes to runID's progress channel and writes each event as a
// line of NDJSON to w, until a terminal ("done") event arrives or ctx is
// canceled.
func (r *Registry) Stream(ctx context.Context, runID string, w io.Writer) error {
	sub := r.kv.Subscribe(ctx, eventsChannel(runID))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := w.Write([]byte(msg.Payload + "\n")); err != nil {
				return err
			}
			if strings.Contains(msg.Payload, `"type":"done"`) {
				return nil
			}
		}
	}
}

// InferFailureMode classifies a run that didn't end with a saved lead,
// based on how far its station history got and what errors it recorded.
func InferFailureMode(history []string, errs []string) FailureMode {
	if len(history) == 0 {
		return FailureStartup
	}

	last := history[len(history)-1]
	joinedErrs := strings.ToLower(strings.Join(errs, " "))

	switch {
	case strings.Contains(joinedErrs, "captcha"):
		return FailureCaptcha
	case strings.Contains(joinedErrs, "timeout") || strings.Contains(joinedErrs, "timed out"):
		return FailureCoreTimeout
	case strings.Contains(joinedErrs, "no_blueprint") || strings.Contains(joinedErrs, "mapping"):
		return FailureMapping
	case strings.Contains(joinedErrs, "selector"):
		return FailureSelector
	case last == "blueprint_loader" && len(history) == 1:
		return FailureMapping
	case contains(history, "chimera") && !contains(history, "database_save"):
		return FailureCoreResult
	case contains(history, "database_save"):
		return FailureDownstream
	case len(errs) == 0 && len(history) > 0:
		return FailureEmpty
	default:
		return FailureUnknown
	}
}

// Hint returns a one-line remediation suggestion for a failure mode.
func Hint(mode FailureMode) string {
	switch mode {
	case FailureMapping:
		return "no blueprint for the target domain; wait for auto-mapping or map it manually"
	case FailureSelector:
		return "blueprint selectors drifted; trigger a remap for the domain"
	case FailureCaptcha:
		return "captcha solve failed; check solver balance and proxy pool health"
	case FailureCoreTimeout:
		return "no reply from the worker fleet; check Core worker health and queue depth"
	case FailureCoreResult:
		return "workers replied but produced no usable data; inspect the provider result pages"
	case FailureDownstream:
		return "enrichment succeeded but a downstream station failed; check Postgres and API credentials"
	case FailureStartup:
		return "run died before the first station; check the lead payload shape"
	case FailureEmpty:
		return "pipeline ran clean but found nothing; the lead may not exist on the provider sites"
	default:
		return "inspect the run's error history"
	}
}

// Annotate classifies a finished run that didn't save and stamps the
// failure keys onto its result record, for the terminal stream event and
// for worker-loop logging.
func Annotate(result lead.Record, history []string, errs []*pipeline.StationError) {
	if result.Bool(lead.KeySaved) {
		return
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	mode := InferFailureMode(history, msgs)
	result[KeyFailureMode] = string(mode)
	result[KeyFailureHint] = Hint(mode)
	if len(history) > 0 {
		result[KeyFailureAt] = history[len(history)-1]
	}
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
