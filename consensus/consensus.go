// Package consensus implements the anti-poisoning tracker and the
// cross-source corroboration protocol applied to high-value leads (ones
// with both a company and a title).
//
// Anti-poisoning: when one provider returns the same phone number or email
// to more than a handful of distinct leads within a short window, that value
// is almost certainly the provider's shared placeholder/honeypot, and that
// provider is blacklisted. Sightings are counted per provider; other
// providers returning the same value do not add to the count.
//
// Cross-source corroboration: a high-value lead that gets conflicting
// phone numbers from two providers is flagged for reconciliation instead of
// silently trusting whichever provider ran last.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/metrics"
)

const (
	poisonKeyPrefix    = "poison:p:"
	poisonTTL          = 1 * time.Hour
	poisonThreshold    = 3
	blacklistKeyPrefix = "blacklist:provider:"
	blacklistTTL       = 4 * time.Hour

	// ConfidenceOlmocrThreshold is the vision-model confidence floor below
	// which a scraped value is flagged for manual verification rather than
	// trusted outright.
	ConfidenceOlmocrThreshold = 0.95
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// Normalize strips a phone number down to its digits so "(512) 555-0100"
// and "512-555-0100" compare equal.
func Normalize(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

// Notifier is the narrow slice of webhook.Notifier the tracker needs. Kept
// as a local interface so this package doesn't import webhook directly.
type Notifier interface {
	ProviderBlacklisted(ctx context.Context, provider, reason string)
}

// Tracker records phone and email sightings per provider and blacklists a
// provider once it has returned the same value to too many distinct leads.
type Tracker struct {
	kv       *kv.Client
	notifier Notifier
}

// NewTracker builds a Tracker. notifier may be nil (no alert is sent).
func NewTracker(client *kv.Client, notifier Notifier) *Tracker {
	return &Tracker{kv: client, notifier: notifier}
}

// RecordDataPoint registers that provider returned value (of dataType,
// "phone" or "email") for leadID. The key is scoped to (provider, dataType,
// normalized value) per the entropy-poison design: a provider that hands
// out the same value to many distinct leads is showing a shared
// placeholder or honeypot, not real data. If more than poisonThreshold
// distinct leads have received this exact value from this provider within
// the rolling window, the provider is blacklisted and true is returned.
func (t *Tracker) RecordDataPoint(ctx context.Context, provider, dataType, value, leadID string) (poisoned bool, err error) {
	norm := normalizeValue(dataType, value)
	if norm == "" || provider == "" || leadID == "" {
		return false, nil
	}

	key := poisonKey(provider, dataType, norm)
	if err := t.kv.SAdd(ctx, key, leadID); err != nil {
		return false, err
	}
	// Re-expiring on every write implements a sliding window: the set's
	// TTL keeps moving out as long as fresh leads keep hitting it.
	if err := t.kv.Expire(ctx, key, poisonTTL); err != nil {
		return false, err
	}

	count, err := t.kv.SCard(ctx, key)
	if err != nil {
		return false, err
	}
	if count <= poisonThreshold {
		return false, nil
	}

	reason := fmt.Sprintf("%s value returned to %d distinct leads within the poison window", dataType, count)
	if err := t.BlacklistProvider(ctx, provider, reason); err != nil {
		return true, err
	}
	return true, nil
}

// poisonKey builds the poison:p:{provider}:{type}:{hash} key, truncating
// the value hash to 24 hex characters to keep keys short.
func poisonKey(provider, dataType, normalizedValue string) string {
	sum := sha256.Sum256([]byte(normalizedValue))
	hash := hex.EncodeToString(sum[:])[:24]
	return poisonKeyPrefix + provider + ":" + dataType + ":" + hash
}

// normalizeValue applies per-type normalization before hashing: phone
// numbers compare digit-only, everything else compares as-is.
func normalizeValue(dataType, value string) string {
	if dataType == "phone" {
		return Normalize(value)
	}
	return value
}

// BlacklistProvider marks provider as blacklisted for blacklistTTL and fires
// an alert. Idempotent: re-blacklisting just refreshes the TTL.
func (t *Tracker) BlacklistProvider(ctx context.Context, provider, reason string) error {
	key := blacklistKeyPrefix + provider
	if err := t.kv.Set(ctx, key, reason, blacklistTTL); err != nil {
		return err
	}
	metrics.ProviderBlacklisted.WithLabelValues(provider).Set(1)
	if t.notifier != nil {
		t.notifier.ProviderBlacklisted(ctx, provider, reason)
	}
	return nil
}

// IsBlacklisted reports whether provider is currently blacklisted.
func (t *Tracker) IsBlacklisted(ctx context.Context, provider string) (bool, error) {
	return t.kv.Exists(ctx, blacklistKeyPrefix+provider)
}

// ResultsDiffer reports whether two phone numbers scraped for the same lead
// disagree once normalized to digits-only. An empty value on either side is
// not a disagreement — it's just missing data.
func ResultsDiffer(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return na != nb
}

// DeltasConflict reports whether two providers' result deltas disagree on
// any of phone, email, or age. A key missing from either side never
// conflicts — only two present, non-empty, unequal values do. Phone
// numbers compare digit-only.
func DeltasConflict(a, b map[string]any) bool {
	for _, key := range []string{lead.KeyChimeraPhone, lead.KeyChimeraEmail, lead.KeyChimeraAge} {
		av, aok := a[key]
		bv, bok := b[key]
		if !aok || !bok {
			continue
		}
		as, bs := fmt.Sprint(av), fmt.Sprint(bv)
		if key == lead.KeyChimeraPhone {
			as, bs = Normalize(as), Normalize(bs)
		}
		if as == "" || bs == "" {
			continue
		}
		if as != bs {
			return true
		}
	}
	return false
}

// CheckCrossSource compares the phone number already on a high-value lead
// against a second provider's result and, if they disagree, flags the
// record for reconciliation rather than overwriting silently.
func CheckCrossSource(r lead.Record, secondProviderPhone string) {
	if !lead.IsHighValue(r) {
		return
	}
	existing := r.String(lead.KeyPhone)
	if existing == "" || secondProviderPhone == "" {
		return
	}
	if ResultsDiffer(existing, secondProviderPhone) {
		r[lead.KeyNeedsReconciliation] = true
	}
}

// FlagLowConfidence marks a record as needing manual verification when a
// vision-extracted field's confidence falls below ConfidenceOlmocrThreshold.
func FlagLowConfidence(r lead.Record, confidence float64) {
	if confidence < ConfidenceOlmocrThreshold {
		r[lead.KeyNeedsOlmocrVerification] = true
	}
}
