// Package httpapi is the minimal operational surface for the enrichment
// core: health/readiness, Prometheus exposition, lead ingestion, and the
// run-registry polling/streaming endpoints. It is not a product-facing
// API — it exists because the run-registry and NDJSON-streaming contract
// described for the pipeline has no meaning without some transport.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/scrapeshifter/goldenrecord/lead"
	"github.com/scrapeshifter/goldenrecord/pipeline"
	"github.com/scrapeshifter/goldenrecord/router"
	"github.com/scrapeshifter/goldenrecord/runregistry"
)

// LeadQueue is the narrow slice of kv.Client the ingestion handler needs.
type LeadQueue interface {
	LPush(ctx context.Context, key string, value string) error
}

// ProviderHealth is the narrow slice of router.Router the health snapshot
// handler needs.
type ProviderHealth interface {
	Snapshot(ctx context.Context) ([]router.HealthSnapshot, error)
}

// RunStarter is the narrow slice of runregistry.Registry the run-kickoff
// handler needs.
type RunStarter interface {
	Start(ctx context.Context, fn runregistry.RunFunc) (string, error)
	Get(ctx context.Context, runID string) (runregistry.Record, bool, error)
	Stream(ctx context.Context, runID string, w io.Writer) error
}

// Deps bundles everything the router needs to build its handlers.
type Deps struct {
	Log         zerolog.Logger
	Queue       LeadQueue
	QueueName   string
	Providers   ProviderHealth
	Runs        RunStarter
	Engine      *pipeline.Engine
	BudgetLimit float64
	ReadyCheck  func(ctx context.Context) error
}

// NewRouter builds the chi router with the middleware chain and routes
// described in the HTTP API component.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(requestLogger(deps.Log))

	r.Get("/healthz", healthzHandler)
	r.Get("/readyz", readyzHandler(deps.ReadyCheck))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/leads", enqueueLeadHandler(deps))
		r.Post("/runs", startRunHandler(deps))
		r.Get("/runs/{id}", getRunHandler(deps))
		r.Get("/runs/{id}/stream", streamRunHandler(deps))
		r.Get("/providers/health", providerHealthHandler(deps))
	})

	return r
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyzHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func enqueueLeadHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var leadMap map[string]any
		if err := json.NewDecoder(r.Body).Decode(&leadMap); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lead payload: " + err.Error()})
			return
		}

		payload, err := json.Marshal(leadMap)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		if err := deps.Queue.LPush(r.Context(), deps.QueueName, string(payload)); err != nil {
			deps.Log.Error().Err(err).Msg("failed to enqueue lead")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue lead"})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func startRunHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var initial map[string]any
		if err := json.NewDecoder(r.Body).Decode(&initial); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid lead payload: " + err.Error()})
			return
		}

		runID, err := deps.Runs.Start(context.Background(), func(ctx context.Context, progress chan<- pipeline.ProgressEvent) (map[string]any, error) {
			pctx := pipeline.NewContext(lead.New(initial), deps.BudgetLimit, progress)
			result := deps.Engine.Run(ctx, pctx)
			runregistry.Annotate(result, pctx.History, pctx.Errors)
			return result, nil
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	}
}

func getRunHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		rec, ok, err := deps.Runs.Get(r.Context(), runID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func streamRunHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, canFlush := w.(http.Flusher)

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
		defer cancel()

		if err := deps.Runs.Stream(ctx, runID, flushWriter{w, flusher, canFlush}); err != nil {
			deps.Log.Warn().Err(err).Str("run_id", runID).Msg("run stream ended with error")
		}
	}
}

func providerHealthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := deps.Providers.Snapshot(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// flushWriter flushes after every write so NDJSON lines reach the client
// as they're produced instead of buffering until the handler returns.
type flushWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	canFlush bool
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if f.canFlush {
		f.flusher.Flush()
	}
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(rw, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("req_id", chimw.GetReqID(r.Context())).
				Int("status", rw.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}
