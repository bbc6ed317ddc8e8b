package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg := config.Load()

	require.Equal(t, 5.0, cfg.BudgetLimit)
	require.Equal(t, 120*time.Second, cfg.ChimeraStationTimeout)
	require.Equal(t, "chimera:missions", cfg.MissionQueueName)
	require.Equal(t, "leads_to_enrich", cfg.LeadQueueName)
	require.Equal(t, "failed_leads", cfg.LeadDLQName)
	require.Equal(t, 3, cfg.RequeueMax)
	require.Equal(t, 0.15, cfg.SkipTraceCost)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://example:6379/2")
	t.Setenv("PIPELINE_BUDGET_LIMIT", "0.10")
	t.Setenv("CHIMERA_STATION_TIMEOUT", "30")
	t.Setenv("CHIMERA_MISSION_QUEUE", "chimera:missions:test")
	t.Setenv("ENV", "test")

	cfg := config.Load()

	require.Equal(t, "redis://example:6379/2", cfg.RedisURL)
	require.Equal(t, 0.10, cfg.BudgetLimit)
	require.Equal(t, 30*time.Second, cfg.ChimeraStationTimeout)
	require.Equal(t, "chimera:missions:test", cfg.MissionQueueName)
	require.False(t, cfg.IsDevelopment())
}

func TestLoadRoutesParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - name: phone_only
    stations: [identity, blueprint_loader, chimera, telnyx_gatekeep, database_save]
  - name: free_only
    stations: [identity, scraper_enrichment, database_save]
`), 0o644))

	routes, err := config.LoadRoutes(path)
	require.NoError(t, err)
	require.Len(t, routes, 2)

	spec, ok := config.FindRoute(routes, "phone_only")
	require.True(t, ok)
	require.Equal(t, []string{"identity", "blueprint_loader", "chimera", "telnyx_gatekeep", "database_save"}, spec.Stations)

	_, ok = config.FindRoute(routes, "missing")
	require.False(t, ok)
}

func TestLoadRoutesRejectsNamelessRoute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes:\n  - stations: [identity]\n"), 0o644))

	_, err := config.LoadRoutes(path)
	require.Error(t, err)
}

func TestAppPrefixedURLsAreFallbacks(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("APP_REDIS_URL", "redis://fallback:6379")
	t.Setenv("APP_DATABASE_URL", "postgres://fallback/db")

	cfg := config.Load()

	require.Equal(t, "redis://fallback:6379", cfg.RedisURL)
	require.Equal(t, "postgres://fallback/db", cfg.DatabaseURL)
}
