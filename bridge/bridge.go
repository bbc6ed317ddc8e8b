// Package bridge implements the Redis mission protocol between the
// pipeline and the remote browser-automation worker fleet ("Core"): build
// a mission, dispatch it by LPUSH onto the shared queue, and block on a
// per-mission reply key until Core posts a result or the deadline passes.
// While a reply is pending, Core's substep telemetry can be tailed off a
// per-mission list and fanned into the caller's progress sink.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scrapeshifter/goldenrecord/kv"
)

const (
	pauseFlagKey       = "SYSTEM_STATE:PAUSED"
	resultKeyPrefix    = "chimera:results:"
	telemetryKeyPrefix = "chimera:telemetry:"
	missionKeyPrefix   = "mission:"
	missionStatusTTL   = 24 * time.Hour
)

// Mission status values mirrored into the mission:{id} hash so operators
// can inspect in-flight and recently finished missions.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Mission is the wire format dispatched to the worker fleet.
type Mission struct {
	MissionID      string          `json:"mission_id"`
	Lead           map[string]any  `json:"lead"`
	Instruction    string          `json:"instruction"`
	Target         string          `json:"target"`
	TargetProvider string          `json:"target_provider"`
	Carrier        string          `json:"carrier,omitempty"`
	Blueprint      json.RawMessage `json:"blueprint,omitempty"`
}

// Result is the wire format Core replies with on the mission's result key.
// Income arrives as either a display string ("$120,000") or a bare number
// depending on which provider page the worker scraped.
type Result struct {
	MissionID        string   `json:"mission_id"`
	Status           string   `json:"status"`
	Phone            string   `json:"phone,omitempty"`
	Age              float64  `json:"age,omitempty"`
	Income           any      `json:"income,omitempty"`
	Email            string   `json:"email,omitempty"`
	CaptchaSolved    bool     `json:"captcha_solved,omitempty"`
	DatatypesFound   []string `json:"datatypes_found,omitempty"`
	VisionConfidence float64  `json:"vision_confidence,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Completed reports whether the worker finished the mission successfully.
func (r Result) Completed() bool { return r.Status == StatusCompleted }

// Request describes one mission dispatch. Carrier and Blueprint are
// optional and omitted from the wire payload when empty; Telemetry, when
// non-nil, receives each substep event Core posts while the mission runs.
type Request struct {
	Provider  string
	Carrier   string
	Blueprint json.RawMessage
	Lead      map[string]any
	Timeout   time.Duration
	Telemetry func(event string)
}

// Bridge dispatches missions and waits for replies.
type Bridge struct {
	kv        *kv.Client
	queueName string
}

// New builds a Bridge that dispatches onto queueName (e.g. "chimera:missions").
func New(client *kv.Client, queueName string) *Bridge {
	return &Bridge{kv: client, queueName: queueName}
}

// IsPaused reports whether the global pause flag is set, gating new mission
// dispatch until an operator clears it.
func (b *Bridge) IsPaused(ctx context.Context) (bool, error) {
	return b.kv.Exists(ctx, pauseFlagKey)
}

// Dispatch builds a deep_search mission for req.Provider carrying the given
// lead fields (with target_provider folded in), pushes it onto the mission
// queue, and blocks up to req.Timeout for a reply on the mission's own
// result key. A timeout is reported as (Result{}, false, nil) — not an
// error — so callers can fall through to provider failover. The mission's
// status hash is kept current (queued → completed|failed|timeout) with a
// 24-hour TTL.
func (b *Bridge) Dispatch(ctx context.Context, req Request) (Result, bool, error) {
	missionID := uuid.NewString()

	leadWithTarget := make(map[string]any, len(req.Lead)+1)
	for k, v := range req.Lead {
		leadWithTarget[k] = v
	}
	leadWithTarget["target_provider"] = req.Provider

	mission := Mission{
		MissionID:      missionID,
		Lead:           leadWithTarget,
		Instruction:    "deep_search",
		Target:         "linkedin_profile",
		TargetProvider: req.Provider,
		Carrier:        req.Carrier,
		Blueprint:      req.Blueprint,
	}

	payload, err := json.Marshal(mission)
	if err != nil {
		return Result{}, false, fmt.Errorf("marshal mission: %w", err)
	}

	b.writeStatus(ctx, missionID, StatusQueued, map[string]any{
		"provider": req.Provider,
		"name":     stringField(req.Lead, "name"),
		"location": stringField(req.Lead, "location"),
	})

	if err := b.kv.LPush(ctx, b.queueName, string(payload)); err != nil {
		return Result{}, false, fmt.Errorf("dispatch mission: %w", err)
	}

	tailDone := b.tailTelemetry(ctx, missionID, req.Telemetry)

	raw, ok, err := b.kv.BRPop(ctx, resultKeyPrefix+missionID, req.Timeout)
	if tailDone != nil {
		tailDone()
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("await mission result: %w", err)
	}
	if !ok {
		b.writeStatus(ctx, missionID, StatusTimeout, nil)
		return Result{}, false, nil
	}

	// The reply key held at most one element; deleting it guarantees a
	// straggler reply posted after this point is never consumed twice.
	_ = b.kv.Del(ctx, resultKeyPrefix+missionID)

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		b.writeStatus(ctx, missionID, StatusFailed, map[string]any{"error": "unparseable reply"})
		return Result{}, false, fmt.Errorf("unmarshal mission result: %w", err)
	}

	if result.Completed() {
		b.writeStatus(ctx, missionID, StatusCompleted, nil)
	} else {
		b.writeStatus(ctx, missionID, StatusFailed, map[string]any{"error": result.Error})
	}
	return result, true, nil
}

// tailTelemetry drains chimera:telemetry:{id} into sink with short BRPOP
// timeouts until stopped. Returns a stop function, or nil when no sink was
// supplied.
func (b *Bridge) tailTelemetry(ctx context.Context, missionID string, sink func(event string)) func() {
	if sink == nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		key := telemetryKeyPrefix + missionID
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			default:
			}
			event, ok, err := b.kv.BRPop(ctx, key, time.Second)
			if err != nil {
				return
			}
			if ok {
				sink(event)
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

func (b *Bridge) writeStatus(ctx context.Context, missionID, status string, extra map[string]any) {
	key := missionKeyPrefix + missionID
	fields := map[string]any{"status": status}
	for k, v := range extra {
		fields[k] = v
	}
	// Status mirroring is observability, not correctness: a failed write
	// never fails the mission.
	if err := b.kv.HSet(ctx, key, fields); err != nil {
		return
	}
	_ = b.kv.Expire(ctx, key, missionStatusTTL)
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
