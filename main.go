package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrapeshifter/goldenrecord/blueprintstore"
	"github.com/scrapeshifter/goldenrecord/bridge"
	"github.com/scrapeshifter/goldenrecord/config"
	"github.com/scrapeshifter/goldenrecord/consensus"
	"github.com/scrapeshifter/goldenrecord/extapi"
	"github.com/scrapeshifter/goldenrecord/httpapi"
	"github.com/scrapeshifter/goldenrecord/kv"
	"github.com/scrapeshifter/goldenrecord/logger"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/router"
	"github.com/scrapeshifter/goldenrecord/runregistry"
	"github.com/scrapeshifter/goldenrecord/stations"
	"github.com/scrapeshifter/goldenrecord/storage"
	"github.com/scrapeshifter/goldenrecord/webhook"
	"github.com/scrapeshifter/goldenrecord/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("goldenrecord enrichment core starting")

	client, err := kv.New(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	if err := client.Ping(context.Background()); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — queue operations will retry")
	} else {
		log.Info().Msg("redis connected")
	}

	var store *storage.PostgresStore
	if cfg.DatabaseURL != "" {
		store, err = storage.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres init failed")
		}
		defer store.Close()
		log.Info().Msg("postgres connected")
	} else {
		log.Warn().Msg("DATABASE_URL not set — leads will not persist")
	}

	notifier := webhook.New(cfg.SlackWebhookURL, cfg.WebhookURL, log)
	tracker := consensus.NewTracker(client, notifier)
	gps := router.New(client)

	var committer blueprintstore.Committer
	if store != nil {
		committer = store
	}
	blueprints := blueprintstore.New(client, committer, notifier)

	missionBridge := bridge.New(client, cfg.MissionQueueName)

	var saver stations.Saver
	if store != nil {
		saver = store
	}
	route, err := buildRoute(cfg, log, gps, tracker, missionBridge, blueprints, saver)
	if err != nil {
		log.Fatal().Err(err).Msg("route construction failed")
	}
	engine := pipeline.NewEngine(routeName(cfg), route)

	registry := runregistry.New(client)

	workerLoop := worker.New(client, engine, worker.Config{
		QueueName:   cfg.LeadQueueName,
		DLQName:     cfg.LeadDLQName,
		MaxAttempts: cfg.RequeueMax,
		BaseDelay:   time.Duration(cfg.RequeueBaseMS) * time.Millisecond,
		Concurrency: int64(cfg.WorkerConcurrency),
		BudgetLimit: cfg.BudgetLimit,
	}, log)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	go func() {
		if err := workerLoop.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("worker loop exited")
		}
	}()

	api := httpapi.NewRouter(httpapi.Deps{
		Log:         log,
		Queue:       client,
		QueueName:   cfg.LeadQueueName,
		Providers:   gps,
		Runs:        registry,
		Engine:      engine,
		BudgetLimit: cfg.BudgetLimit,
		ReadyCheck:  client.Ping,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // stream handlers outlive normal requests
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutting down")

	stopWorker()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("stopped")
}

func routeName(cfg *config.Config) string {
	if cfg.PipelineName != "" {
		return cfg.PipelineName
	}
	return "default"
}

// buildRoute assembles the station order a lead runs through. The default
// order is load-bearing: identity normalization feeds provider search, the
// blueprint must be loaded before Chimera dispatches, validation gates the
// paid downstream stations, and the save always goes last. A routes file
// plus PIPELINE_NAME can swap in a different ordering of the same station
// set.
func buildRoute(cfg *config.Config, log zerolog.Logger, gps *router.Router, tracker *consensus.Tracker, missionBridge *bridge.Bridge, blueprints *blueprintstore.Store, saver stations.Saver) ([]pipeline.Station, error) {
	var lineChecker stations.LineTypeChecker
	if cfg.TelnyxAPIKey != "" {
		lineChecker = extapi.NewTelnyxClient(cfg.TelnyxAPIKey, cfg.TelnyxTimeout)
	}

	var tracer stations.SkipTracer
	if cfg.SkipTraceURL != "" {
		tracer = extapi.NewSkipTraceClient(cfg.SkipTraceURL, cfg.SkipTraceAPIKey, 30*time.Second)
	}

	scrapeDomains := make([]string, 0, len(router.Magazine))
	for _, provider := range router.Magazine {
		scrapeDomains = append(scrapeDomains, router.ProviderDomains[provider])
	}
	scraper := extapi.NewScraperClient(blueprints, scrapeDomains, 30*time.Second)
	census := extapi.NewCensusClient(cfg.CensusAPIKey, 10*time.Second)

	byName := map[string]pipeline.Station{}
	ordered := []pipeline.Station{
		stations.IdentityResolutionStation{},
		stations.BlueprintLoaderStation{Store: blueprints, Selector: gps},
		&stations.ChimeraStation{
			Bridge:  missionBridge,
			Router:  gps,
			Poison:  tracker,
			Timeout: cfg.ChimeraStationTimeout,
		},
		stations.ScraperEnrichmentStation{Enricher: scraper},
		stations.SkipTracingStation{Tracer: tracer, Cost: cfg.SkipTraceCost},
		stations.TelnyxGatekeepStation{Checker: lineChecker},
		stations.DNCGatekeeperStation{},
		stations.DemographicsStation{Census: census},
		stations.DatabaseSaveStation{Store: saver},
	}
	for _, s := range ordered {
		byName[s.Name()] = s
	}

	if cfg.RoutesFile == "" || cfg.PipelineName == "" {
		return ordered, nil
	}

	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}
	spec, ok := config.FindRoute(routes, cfg.PipelineName)
	if !ok {
		log.Warn().Str("pipeline", cfg.PipelineName).Msg("named route not found, using default")
		return ordered, nil
	}

	route := make([]pipeline.Station, 0, len(spec.Stations))
	for _, name := range spec.Stations {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("route %q references unknown station %q", spec.Name, name)
		}
		route = append(route, s)
	}
	return route, nil
}
