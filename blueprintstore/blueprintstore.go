// Package blueprintstore holds the per-domain scraping blueprints (selector
// maps telling the worker fleet where to find each field on a given
// provider's result page) and the side-channel that requests a new
// blueprint be learned when a domain has none, or reports that an existing
// one has drifted.
package blueprintstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/scrapeshifter/goldenrecord/kv"
)

const (
	canonicalPrefix = "BLUEPRINT:"
	legacyPrefix    = "blueprint:"
	needsMappingSet = "dojo:domains_need_mapping"
	alertsChannel   = "dojo:alerts"
	activeDomainTTL = 1 * time.Hour
	traumaTTL       = 7 * 24 * time.Hour
)

// Committer persists a newly learned blueprint durably (Postgres), beyond
// the Redis copy used for fast lookups.
type Committer interface {
	SaveBlueprint(ctx context.Context, domain string, blueprint json.RawMessage) error
}

// MappingNotifier is notified when a domain needs a blueprint mapped.
type MappingNotifier interface {
	MappingRequired(ctx context.Context, domain string)
}

// Store reads and writes blueprints and the mapping-required side-channel.
type Store struct {
	kv        *kv.Client
	committer Committer
	notifier  MappingNotifier

	// Dir, when set, receives an on-disk copy of every committed blueprint
	// ({domain}.json) so a wiped Redis can be reseeded without Postgres.
	Dir string
}

// New builds a Store. committer and notifier may both be nil.
func New(client *kv.Client, committer Committer, notifier MappingNotifier) *Store {
	return &Store{kv: client, committer: committer, notifier: notifier}
}

// Get returns the blueprint for domain, checking the canonical key first
// and falling back to the legacy lowercase key. ok is false when neither
// exists.
func (s *Store) Get(ctx context.Context, domain string) (blueprint json.RawMessage, ok bool, err error) {
	raw, err := s.kv.Get(ctx, canonicalPrefix+domain)
	if err != nil {
		return nil, false, err
	}
	if raw != "" {
		return json.RawMessage(raw), true, nil
	}

	raw, err = s.kv.Get(ctx, legacyPrefix+domain)
	if err != nil {
		return nil, false, err
	}
	if raw != "" {
		return json.RawMessage(raw), true, nil
	}
	return nil, false, nil
}

// Commit stores a newly learned (or auto-mapped) blueprint under the
// canonical key, mirrors it to Dir when configured, and, if a Committer
// was configured, persists it durably.
func (s *Store) Commit(ctx context.Context, domain string, blueprint json.RawMessage) error {
	if err := s.kv.Set(ctx, canonicalPrefix+domain, string(blueprint), 0); err != nil {
		return err
	}
	if s.Dir != "" {
		if err := os.WriteFile(filepath.Join(s.Dir, domain+".json"), blueprint, 0o644); err != nil {
			return err
		}
	}
	if s.committer != nil {
		return s.committer.SaveBlueprint(ctx, domain, blueprint)
	}
	return nil
}

// RequestMapping records that domain has no usable blueprint: adds it to
// the needs-mapping set, fires an alert, and marks the domain "active" for
// an hour so repeated lookups for the same missing domain don't spam the
// alert channel.
func (s *Store) RequestMapping(ctx context.Context, domain string) error {
	active, err := s.kv.Exists(ctx, "dojo:active_domain:"+domain)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	if err := s.kv.SAdd(ctx, needsMappingSet, domain); err != nil {
		return err
	}
	if err := s.kv.Set(ctx, "dojo:active_domain:"+domain, "1", activeDomainTTL); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{"domain": domain, "reason": "no_blueprint"})
	if err := s.kv.Publish(ctx, alertsChannel, string(payload)); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.MappingRequired(ctx, domain)
	}
	return nil
}

// ReportTrauma records that domain's blueprint appears to have drifted
// (selectors stopped matching). Traumas expire after a week; repeated
// traumas on the same domain simply refresh the TTL.
func (s *Store) ReportTrauma(ctx context.Context, domain, detail string) error {
	return s.kv.Set(ctx, "trauma:"+domain, detail, traumaTTL)
}

// NeedsMapping lists every domain currently flagged as missing a blueprint.
func (s *Store) NeedsMapping(ctx context.Context) ([]string, error) {
	return s.kv.SMembers(ctx, needsMappingSet)
}
