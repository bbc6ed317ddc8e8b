// Package router implements the GPS provider router: an epsilon-greedy
// multi-armed bandit that picks which people-search provider to dispatch a
// mission to next, tracks rolling health per provider, and excludes
// providers currently blacklisted by the anti-poisoning tracker.
package router

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/metrics"
)

// Magazine is the closed list of providers this router ever dispatches to.
// ProviderDomains holds the domain each one's blueprint is keyed under.
var Magazine = []string{
	"FastPeopleSearch",
	"TruePeopleSearch",
	"ZabaSearch",
	"SearchPeopleFree",
	"ThatsThem",
	"AnyWho",
}

// ProviderDomains maps each Magazine provider to the domain its blueprint is
// stored under.
var ProviderDomains = map[string]string{
	"FastPeopleSearch": "fastpeoplesearch.com",
	"TruePeopleSearch": "truepeoplesearch.com",
	"ZabaSearch":       "zabasearch.com",
	"SearchPeopleFree": "searchpeoplefree.com",
	"ThatsThem":        "thatsthem.com",
	"AnyWho":           "anywho.com",
}

// defaultProvider is returned by SelectProvider when no provider is eligible
// (every one tried or blacklisted), so SelectProvider never returns an empty
// string.
const defaultProvider = "TruePeopleSearch"

const (
	epsilon            = 0.1
	latencyWeight      = 0.2
	preferredBias      = 0.15
	latencyNormalizeMS = 5000.0
)

// LeadState tags where a lead is in the enrichment lifecycle, used as a
// bucketing dimension for provider health so a provider's phone-finding
// success rate doesn't get muddied by its address-only success rate.
type LeadState string

const (
	LeadStateNew      LeadState = "NEW"
	LeadStatePartial  LeadState = "PARTIAL"
	LeadStateEnriched LeadState = "ENRICHED"
)

// GetLeadState classifies a lead record by which Chimera-sourced fields are
// already present.
func GetLeadState(r lead.Record) LeadState {
	switch {
	case r.Has(lead.KeyChimeraPhone) && r.Has(lead.KeyChimeraAge):
		return LeadStateEnriched
	case r.Has(lead.KeyChimeraPhone) || r.Has(lead.KeyChimeraEmail):
		return LeadStatePartial
	default:
		return LeadStateNew
	}
}

// health is the parsed form of a provider_health:{name} hash (and,
// identically shaped, a carrier_health:{domain}:{carrier} hash).
type health struct {
	successCount  int64
	failureCount  int64
	captchaSolves int64
	avgLatencyMS  float64
}

func (h health) successRate() float64 {
	total := h.successCount + h.failureCount
	if total == 0 {
		return 0.5 // unknown provider starts neutral, not penalized
	}
	return float64(h.successCount) / float64(total)
}

func (h health) normalizedLatency() float64 {
	if h.avgLatencyMS <= 0 {
		return 0
	}
	n := h.avgLatencyMS / latencyNormalizeMS
	if n > 1 {
		n = 1
	}
	return n
}

// Router selects and scores providers using health state stored in Redis.
type Router struct {
	kv   *kv.Client
	rand *rand.Rand
}

// New builds a Router backed by client. Its epsilon-greedy draws come from a
// rand source seeded with a fixed value, so the draw sequence repeats from
// one process to the next.
func New(client *kv.Client) *Router {
	return &Router{kv: client, rand: rand.New(rand.NewSource(1))}
}

func healthKey(provider string) string    { return "provider_health:" + provider }
func blacklistKey(provider string) string { return "blacklist:provider:" + provider }

func stateHealthKey(provider string, state LeadState) string {
	return "provider_health:" + provider + ":" + string(state)
}

func carrierHealthKey(domain, carrier string) string {
	return "carrier_health:" + domain + ":" + carrier
}
func carrierSetKey(domain string) string { return "carrier_health:" + domain + ":known" }

func (r *Router) loadHealth(ctx context.Context, provider string) (health, error) {
	return r.loadHealthAt(ctx, healthKey(provider))
}

func (r *Router) loadHealthAt(ctx context.Context, key string) (health, error) {
	fields, err := r.kv.HGetAll(ctx, key)
	if err != nil {
		return health{}, err
	}
	var h health
	h.successCount, _ = strconv.ParseInt(fields["success_count"], 10, 64)
	h.failureCount, _ = strconv.ParseInt(fields["failure_count"], 10, 64)
	h.captchaSolves, _ = strconv.ParseInt(fields["captcha_solves"], 10, 64)
	h.avgLatencyMS, _ = strconv.ParseFloat(fields["avg_latency_ms"], 64)
	return h, nil
}

func (r *Router) isBlacklisted(ctx context.Context, provider string) (bool, error) {
	bl, err := r.kv.Exists(ctx, blacklistKey(provider))
	if err != nil {
		return false, err
	}
	if bl {
		metrics.ProviderBlacklisted.WithLabelValues(provider).Set(1)
	} else {
		metrics.ProviderBlacklisted.WithLabelValues(provider).Set(0)
	}
	return bl, nil
}

// availableProviders returns Magazine providers minus tried minus
// blacklisted, in Magazine order.
func (r *Router) availableProviders(ctx context.Context, tried []string) ([]string, error) {
	triedSet := make(map[string]struct{}, len(tried))
	for _, p := range tried {
		triedSet[p] = struct{}{}
	}

	var out []string
	for _, p := range Magazine {
		if _, skip := triedSet[p]; skip {
			continue
		}
		blacklisted, err := r.isBlacklisted(ctx, p)
		if err != nil {
			return nil, err
		}
		if blacklisted {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type scoredProvider struct {
	name    string
	score   float64
	latency float64
}

// SelectProvider picks a provider for a fresh mission dispatch, scoring
// against the lead-state-scoped health segment when that segment has any
// history (so a provider great at fresh leads but bad at partials is
// ranked per segment), falling back to the provider's global health
// otherwise. It never returns an empty string — if no candidate is
// eligible (every provider tried or blacklisted), it falls back to
// defaultProvider. Errors come only from reading health or blacklist state.
func (r *Router) SelectProvider(ctx context.Context, state LeadState, tried []string, preferred string) (string, error) {
	candidates, err := r.availableProviders(ctx, tried)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return defaultProvider, nil
	}

	if r.rand.Float64() < epsilon {
		return candidates[r.rand.Intn(len(candidates))], nil
	}

	scored := make([]scoredProvider, 0, len(candidates))
	for _, p := range candidates {
		h, err := r.loadHealthAt(ctx, stateHealthKey(p, state))
		if err != nil {
			return "", err
		}
		if h.successCount+h.failureCount == 0 {
			h, err = r.loadHealth(ctx, p)
			if err != nil {
				return "", err
			}
		}
		score := h.successRate() - latencyWeight*h.normalizedLatency()
		if p == preferred {
			score += preferredBias
		}
		scored = append(scored, scoredProvider{name: p, score: score, latency: h.avgLatencyMS})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].latency != scored[j].latency {
			return scored[i].latency < scored[j].latency
		}
		return scored[i].name < scored[j].name
	})

	return scored[0].name, nil
}

// GetNextProvider returns the next untried, non-blacklisted provider after a
// dispatch to failedProvider has failed. Returns "" when the Magazine is
// exhausted — unlike SelectProvider, this has no fallback, since calling
// code uses an empty result to mean "stop retrying this lead".
func (r *Router) GetNextProvider(ctx context.Context, failedProvider string, tried []string) (string, error) {
	allTried := append(append([]string(nil), tried...), failedProvider)
	candidates, err := r.availableProviders(ctx, allTried)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[0], nil
}

// RecordResult folds a mission outcome into the provider's rolling health,
// both globally and within the lead-state segment the mission ran for.
func (r *Router) RecordResult(ctx context.Context, provider string, state LeadState, success, captchaSolved bool, latencyMS int64) error {
	h, err := r.loadHealth(ctx, provider)
	if err != nil {
		return err
	}
	foldOutcome(&h, success, captchaSolved, latencyMS)
	if err := r.kv.HSet(ctx, healthKey(provider), healthFields(h)); err != nil {
		return err
	}

	sh, err := r.loadHealthAt(ctx, stateHealthKey(provider, state))
	if err != nil {
		return err
	}
	foldOutcome(&sh, success, captchaSolved, latencyMS)
	if err := r.kv.HSet(ctx, stateHealthKey(provider, state), healthFields(sh)); err != nil {
		return err
	}

	metrics.ProviderSuccessRate.WithLabelValues(provider).Set(h.successRate())
	return nil
}

// RecordCarrierResult folds a mission outcome into the health of the
// residential-proxy carrier the mission rode through, per provider domain.
// Carrier health feeds PreferredCarrier, not provider selection.
func (r *Router) RecordCarrierResult(ctx context.Context, domain, carrier string, success bool, latencyMS int64) error {
	if domain == "" || carrier == "" {
		return nil
	}
	h, err := r.loadHealthAt(ctx, carrierHealthKey(domain, carrier))
	if err != nil {
		return err
	}

	foldOutcome(&h, success, false, latencyMS)

	if err := r.kv.SAdd(ctx, carrierSetKey(domain), carrier); err != nil {
		return err
	}
	return r.kv.HSet(ctx, carrierHealthKey(domain, carrier), healthFields(h))
}

// PreferredCarrier returns the carrier with the best success rate for
// domain, or "" when no carrier has history yet (the worker picks its own).
func (r *Router) PreferredCarrier(ctx context.Context, domain string) (string, error) {
	carriers, err := r.kv.SMembers(ctx, carrierSetKey(domain))
	if err != nil {
		return "", err
	}
	sort.Strings(carriers)

	best, bestRate := "", -1.0
	for _, c := range carriers {
		h, err := r.loadHealthAt(ctx, carrierHealthKey(domain, c))
		if err != nil {
			return "", err
		}
		if rate := h.successRate(); rate > bestRate {
			best, bestRate = c, rate
		}
	}
	return best, nil
}

func foldOutcome(h *health, success, captchaSolved bool, latencyMS int64) {
	if success {
		h.successCount++
	} else {
		h.failureCount++
	}
	if captchaSolved {
		h.captchaSolves++
	}

	// Latency is a moving average: a plain mean over the first
	// latencyWindow outcomes, then an exponential moving average that
	// weights each new outcome by 1/latencyWindow.
	const latencyWindow = 20
	total := h.successCount + h.failureCount
	n := total
	if n > latencyWindow {
		n = latencyWindow
	}
	if total == 1 {
		h.avgLatencyMS = float64(latencyMS)
	} else {
		h.avgLatencyMS = h.avgLatencyMS + (float64(latencyMS)-h.avgLatencyMS)/float64(n)
	}
}

func healthFields(h health) map[string]any {
	return map[string]any{
		"success_count":  fmt.Sprintf("%d", h.successCount),
		"failure_count":  fmt.Sprintf("%d", h.failureCount),
		"captcha_solves": fmt.Sprintf("%d", h.captchaSolves),
		"avg_latency_ms": fmt.Sprintf("%.2f", h.avgLatencyMS),
	}
}

// HealthSnapshot is the read-only provider health view exposed over HTTP.
type HealthSnapshot struct {
	Provider      string  `json:"provider"`
	SuccessRate   float64 `json:"success_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	CaptchaSolves int64   `json:"captcha_solves"`
	Blacklisted   bool    `json:"blacklisted"`
}

// Snapshot returns the current health of every Magazine provider.
func (r *Router) Snapshot(ctx context.Context) ([]HealthSnapshot, error) {
	out := make([]HealthSnapshot, 0, len(Magazine))
	for _, p := range Magazine {
		h, err := r.loadHealth(ctx, p)
		if err != nil {
			return nil, err
		}
		bl, err := r.isBlacklisted(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, HealthSnapshot{
			Provider:      p,
			SuccessRate:   h.successRate(),
			AvgLatencyMS:  h.avgLatencyMS,
			CaptchaSolves: h.captchaSolves,
			Blacklisted:   bl,
		})
	}
	return out, nil
}
