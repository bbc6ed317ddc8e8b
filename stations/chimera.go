package stations

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/scrapeshifter/goldenrecord/bridge"
	"github.com/scrapeshifter/goldenrecord/consensus"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/metrics"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/router"
)

// Router is the slice of router.Router this station needs.
type Router interface {
	SelectProvider(ctx context.Context, state router.LeadState, tried []string, preferred string) (string, error)
	GetNextProvider(ctx context.Context, failedProvider string, tried []string) (string, error)
	RecordResult(ctx context.Context, provider string, state router.LeadState, success, captchaSolved bool, latencyMS int64) error
	RecordCarrierResult(ctx context.Context, domain, carrier string, success bool, latencyMS int64) error
	PreferredCarrier(ctx context.Context, domain string) (string, error)
}

// PoisonTracker is the slice of consensus.Tracker this station needs.
type PoisonTracker interface {
	RecordDataPoint(ctx context.Context, provider, dataType, value, leadID string) (bool, error)
}

// Dispatcher is the slice of bridge.Bridge this station needs.
type Dispatcher interface {
	IsPaused(ctx context.Context) (bool, error)
	Dispatch(ctx context.Context, req bridge.Request) (bridge.Result, bool, error)
}

// ChimeraStation drives the GPS-routed mission dispatch to the worker
// fleet: pick a provider, dispatch, and on failure walk the Magazine until
// one succeeds or every provider has been tried. High-value leads get a
// second, corroborating dispatch to a different provider.
type ChimeraStation struct {
	Bridge  Dispatcher
	Router  Router
	Poison  PoisonTracker
	Timeout time.Duration

	// Pause-gate tuning. Zero values take the production defaults
	// (120s window polled every 15s); tests shrink them.
	PauseMaxWait      time.Duration
	PausePollInterval time.Duration

	breakers   map[string]*gobreaker.CircuitBreaker[bridge.Result]
	breakersMu sync.Mutex
}

func (*ChimeraStation) Name() string             { return "chimera" }
func (*ChimeraStation) RequiredInputs() []string { return []string{lead.KeyName} }
func (*ChimeraStation) ProducesOutputs() []string {
	return []string{lead.KeyChimeraPhone, lead.KeyChimeraEmail, lead.KeyChimeraAge, lead.KeyChimeraIncome}
}
func (*ChimeraStation) CostEstimate(_ *pipeline.Context) float64 { return 0.35 }

func (s *ChimeraStation) Process(ctx context.Context, pctx *pipeline.Context) (map[string]any, pipeline.StopCondition, error) {
	cleared, err := s.awaitUnpause(ctx)
	if err != nil {
		return nil, pipeline.Fail, &pipeline.StationError{Step: "chimera", Reason: "pause check failed: " + err.Error(), Cause: err}
	}
	if !cleared {
		// Still paused after the whole wait window: dispatch nothing and
		// spend nothing here. The later stations of the route still run.
		return nil, pipeline.Continue, &pipeline.StationError{
			Step:         "chimera",
			Reason:       "system paused for the entire wait window, no mission dispatched",
			SuggestedFix: "clear SYSTEM_STATE:PAUSED",
		}
	}

	preferred := pctx.Data.String(lead.KeySelectedProvider)
	delta, result, provider, err := s.dispatchUntilSuccess(ctx, pctx, nil, preferred)
	if err != nil {
		return delta, pipeline.Fail, err
	}

	if result.Completed() && lead.IsHighValue(pctx.Data) {
		s.corroborate(ctx, pctx, delta, provider)
	}

	return delta, pipeline.Continue, nil
}

// awaitUnpause blocks while the global pause flag is set, re-checking every
// PausePollInterval up to PauseMaxWait. Returns false when the window
// expires with the flag still set.
func (s *ChimeraStation) awaitUnpause(ctx context.Context) (bool, error) {
	maxWait := s.PauseMaxWait
	if maxWait <= 0 {
		maxWait = 120 * time.Second
	}
	interval := s.PausePollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	deadline := time.Now().Add(maxWait)
	for {
		paused, err := s.Bridge.IsPaused(ctx)
		if err != nil {
			return false, err
		}
		if !paused {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// dispatchUntilSuccess tries providers in router order, recording each
// outcome (provider and carrier) under the lead's current state segment,
// until one succeeds or the Magazine is exhausted.
func (s *ChimeraStation) dispatchUntilSuccess(ctx context.Context, pctx *pipeline.Context, tried []string, preferred string) (map[string]any, bridge.Result, string, error) {
	state := router.GetLeadState(pctx.Data)
	provider, err := s.Router.SelectProvider(ctx, state, tried, preferred)
	if err != nil {
		return nil, bridge.Result{}, "", &pipeline.StationError{Step: "chimera", Reason: "provider selection failed: " + err.Error(), Cause: err}
	}

	var blueprint json.RawMessage
	if raw := pctx.Data.String(lead.KeyBlueprint); raw != "" {
		blueprint = json.RawMessage(raw)
	}

	for {
		result, success, dispatchErr, recErr := s.dispatchOne(ctx, pctx, state, provider, blueprint)
		if recErr != nil {
			return nil, bridge.Result{}, provider, &pipeline.StationError{Step: "chimera", Reason: "failed to record provider result: " + recErr.Error(), Cause: recErr}
		}

		if success {
			delta := resultToDelta(result)
			s.checkPoison(ctx, pctx, provider, delta)
			if result.VisionConfidence > 0 {
				consensus.FlagLowConfidence(lead.Record(delta), result.VisionConfidence)
			}
			return delta, result, provider, nil
		}

		tried = append(tried, provider)
		next, nextErr := s.Router.GetNextProvider(ctx, provider, tried)
		if nextErr != nil {
			return nil, bridge.Result{}, provider, &pipeline.StationError{Step: "chimera", Reason: "provider failover failed: " + nextErr.Error(), Cause: nextErr}
		}
		if next == "" {
			reason := "all providers exhausted without a successful mission"
			if dispatchErr != nil {
				reason = dispatchErr.Error()
			}
			return nil, bridge.Result{}, provider, &pipeline.StationError{
				Step:         "chimera",
				Reason:       reason,
				SuggestedFix: "check Core worker fleet health and provider blueprints",
			}
		}
		provider = next
	}
}

// dispatchOne runs a single mission against provider and folds the
// outcome into provider and carrier health. recErr is the only error the
// caller must treat as fatal; a dispatch failure or timeout just reads as
// success=false.
func (s *ChimeraStation) dispatchOne(ctx context.Context, pctx *pipeline.Context, state router.LeadState, provider string, blueprint json.RawMessage) (result bridge.Result, success bool, dispatchErr, recErr error) {
	domain := router.ProviderDomains[provider]
	carrier, _ := s.Router.PreferredCarrier(ctx, domain)
	start := time.Now()

	result, ok, dispatchErr := s.callBreaker(ctx, bridge.Request{
		Provider:  provider,
		Carrier:   carrier,
		Blueprint: blueprint,
		Lead:      pctx.Data,
		Timeout:   s.Timeout,
		Telemetry: s.telemetrySink(pctx),
	})
	latency := time.Since(start).Milliseconds()
	metrics.MissionRoundTrip.Observe(time.Since(start).Seconds())

	success = dispatchErr == nil && ok && result.Completed()
	if dispatchErr == errTimeout {
		metrics.MissionTimeouts.WithLabelValues(provider).Inc()
	}
	recErr = s.Router.RecordResult(ctx, provider, state, success, result.CaptchaSolved, latency)
	_ = s.Router.RecordCarrierResult(ctx, domain, carrier, success, latency)
	return result, success, dispatchErr, recErr
}

// corroborate dispatches exactly one additional mission to the next
// provider other than firstProvider for a high-value lead and flags the
// record when the two results disagree on any of phone, email, or age.
// Only firstProvider is excluded: a provider that failed earlier in this
// lead's failover can be picked as the second one. One attempt only: a
// second provider that can't produce a result is not a conflict and does
// not trigger a failover cascade — the first result stands unflagged.
func (s *ChimeraStation) corroborate(ctx context.Context, pctx *pipeline.Context, firstDelta map[string]any, firstProvider string) {
	second, err := s.Router.GetNextProvider(ctx, firstProvider, []string{firstProvider})
	if err != nil || second == "" {
		return
	}

	var blueprint json.RawMessage
	if raw := pctx.Data.String(lead.KeyBlueprint); raw != "" {
		blueprint = json.RawMessage(raw)
	}

	result, success, _, _ := s.dispatchOne(ctx, pctx, router.GetLeadState(pctx.Data), second, blueprint)
	if !success {
		return
	}

	secondDelta := resultToDelta(result)
	s.checkPoison(ctx, pctx, second, secondDelta)
	if consensus.DeltasConflict(firstDelta, secondDelta) {
		firstDelta[lead.KeyNeedsReconciliation] = true
	}
}

// telemetrySink adapts Core's substep telemetry onto the pipeline progress
// channel, when one is attached to the run.
func (s *ChimeraStation) telemetrySink(pctx *pipeline.Context) func(string) {
	if pctx.Progress == nil {
		return nil
	}
	return func(event string) {
		select {
		case pctx.Progress <- pipeline.ProgressEvent{Step: "chimera:" + event}:
		default:
		}
	}
}

func (s *ChimeraStation) callBreaker(ctx context.Context, req bridge.Request) (bridge.Result, bool, error) {
	breaker := s.breakerFor(req.Provider)
	result, err := breaker.Execute(func() (bridge.Result, error) {
		result, ok, dispatchErr := s.Bridge.Dispatch(ctx, req)
		if dispatchErr != nil {
			return bridge.Result{}, dispatchErr
		}
		if !ok {
			return bridge.Result{}, errTimeout
		}
		return result, nil
	})
	if err != nil {
		return bridge.Result{}, false, err
	}
	return result, true, nil
}

func (s *ChimeraStation) breakerFor(provider string) *gobreaker.CircuitBreaker[bridge.Result] {
	s.breakersMu.Lock()
	defer s.breakersMu.Unlock()
	if s.breakers == nil {
		s.breakers = map[string]*gobreaker.CircuitBreaker[bridge.Result]{}
	}
	if b, ok := s.breakers[provider]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[bridge.Result](gobreaker.Settings{
		Name:        "chimera-" + provider,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	s.breakers[provider] = b
	return b
}

// checkPoison feeds every phone/email value a successful mission returned
// into the entropy-poison tracker, keyed by the requesting lead's LinkedIn
// URL (falling back to its name when no URL is present yet).
func (s *ChimeraStation) checkPoison(ctx context.Context, pctx *pipeline.Context, provider string, delta map[string]any) {
	if s.Poison == nil {
		return
	}
	leadID := pctx.Data.String(lead.KeyLinkedInURL)
	if leadID == "" {
		leadID = pctx.Data.String(lead.KeyName)
	}
	if phone, ok := delta[lead.KeyChimeraPhone].(string); ok && phone != "" {
		_, _ = s.Poison.RecordDataPoint(ctx, provider, "phone", phone, leadID)
	}
	if email, ok := delta[lead.KeyChimeraEmail].(string); ok && email != "" {
		_, _ = s.Poison.RecordDataPoint(ctx, provider, "email", email, leadID)
	}
}

// resultToDelta maps a successful mission's result onto both the
// chimera_-prefixed fields (attributed to this station) and the canonical
// phone/email fields, per the wire contract where Core's result is meant
// to populate the record outright, not just feed a later station.
func resultToDelta(result bridge.Result) map[string]any {
	delta := map[string]any{}
	raw := map[string]any{}
	if result.Phone != "" {
		delta[lead.KeyChimeraPhone] = result.Phone
		delta[lead.KeyPhone] = result.Phone
		raw[lead.KeyPhone] = result.Phone
	}
	if result.Email != "" {
		delta[lead.KeyChimeraEmail] = result.Email
		delta[lead.KeyEmail] = result.Email
		raw[lead.KeyEmail] = result.Email
	}
	if result.Age > 0 {
		delta[lead.KeyChimeraAge] = result.Age
		delta[lead.KeyAge] = result.Age
		raw[lead.KeyAge] = result.Age
	}
	switch income := result.Income.(type) {
	case nil:
	case string:
		if income != "" {
			delta[lead.KeyChimeraIncome] = income
			delta[lead.KeyIncome] = income
			raw[lead.KeyIncome] = income
		}
	default:
		delta[lead.KeyChimeraIncome] = income
		delta[lead.KeyIncome] = income
		raw[lead.KeyIncome] = income
	}
	delta[lead.KeyChimeraRaw] = raw
	return delta
}

var errTimeout = &pipeline.StationError{Step: "chimera", Reason: "mission timed out waiting for a Core reply"}
