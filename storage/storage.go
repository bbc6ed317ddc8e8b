// Package storage persists Golden Records to Postgres: one row per
// LinkedIn URL, upserted so a later enrichment pass overwrites only the
// fields it carries a non-null value for.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scrapeshifter/goldenrecord/lead"
)

const schema = `
CREATE TABLE IF NOT EXISTS leads (
	linkedin_url     TEXT PRIMARY KEY,
	name             TEXT,
	company          TEXT,
	title            TEXT,
	city             TEXT,
	state            TEXT,
	zipcode          TEXT,
	phone            TEXT,
	email            TEXT,
	age              DOUBLE PRECISION,
	income           DOUBLE PRECISION,
	confidence_age   DOUBLE PRECISION,
	confidence_income DOUBLE PRECISION,
	dnc_status       TEXT,
	source_metadata  JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blueprints (
	domain     TEXT PRIMARY KEY,
	blueprint  JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// PostgresStore is the pgx-backed sink for both Golden Records and learned
// blueprints.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

// Save upserts a lead record, keyed on its linkedin_url. Non-null incoming
// fields overwrite existing ones; fields the record doesn't carry are left
// untouched on an existing row via COALESCE.
func (s *PostgresStore) Save(ctx context.Context, r lead.Record) error {
	linkedinURL := r.String(lead.KeyLinkedInURL)
	if linkedinURL == "" {
		return fmt.Errorf("storage: cannot save a lead with no linkedin_url")
	}

	age, _ := r.Float(lead.KeyAge)
	income, _ := r.Float(lead.KeyIncome)

	metadata, err := json.Marshal(sourceMetadata(r))
	if err != nil {
		return fmt.Errorf("marshal source metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO leads (linkedin_url, name, company, title, city, state, zipcode, phone, email, age, income, dnc_status, source_metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, 0), NULLIF($11, 0), $12, $13, now())
		ON CONFLICT (linkedin_url) DO UPDATE SET
			name            = COALESCE(EXCLUDED.name, leads.name),
			company         = COALESCE(EXCLUDED.company, leads.company),
			title           = COALESCE(EXCLUDED.title, leads.title),
			city            = COALESCE(EXCLUDED.city, leads.city),
			state           = COALESCE(EXCLUDED.state, leads.state),
			zipcode         = COALESCE(EXCLUDED.zipcode, leads.zipcode),
			phone           = COALESCE(EXCLUDED.phone, leads.phone),
			email           = COALESCE(EXCLUDED.email, leads.email),
			age             = COALESCE(EXCLUDED.age, leads.age),
			income          = COALESCE(EXCLUDED.income, leads.income),
			dnc_status      = COALESCE(EXCLUDED.dnc_status, leads.dnc_status),
			source_metadata = leads.source_metadata || EXCLUDED.source_metadata,
			updated_at      = now()
	`,
		linkedinURL,
		nullIfEmpty(r.String(lead.KeyName)),
		nullIfEmpty(r.String(lead.KeyCompany)),
		nullIfEmpty(r.String(lead.KeyTitle)),
		nullIfEmpty(r.String(lead.KeyCity)),
		nullIfEmpty(r.String(lead.KeyState)),
		nullIfEmpty(r.String(lead.KeyZipcode)),
		nullIfEmpty(r.String(lead.KeyPhone)),
		nullIfEmpty(r.String(lead.KeyEmail)),
		age,
		income,
		nullIfEmpty(r.String(lead.KeyDNCStatus)),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

// SaveBlueprint persists a learned blueprint, satisfying
// blueprintstore.Committer.
func (s *PostgresStore) SaveBlueprint(ctx context.Context, domain string, blueprint json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blueprints (domain, blueprint, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (domain) DO UPDATE SET blueprint = EXCLUDED.blueprint, updated_at = now()
	`, domain, blueprint)
	return err
}

func sourceMetadata(r lead.Record) map[string]any {
	meta := map[string]any{}
	if cost, ok := r.Float(lead.KeyPipelineCost); ok {
		meta["pipeline_cost"] = cost
	}
	if stations, ok := r["_pipeline_stations_executed"].([]string); ok {
		meta["pipeline_stations_executed"] = stations
	}
	return meta
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
