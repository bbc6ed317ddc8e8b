// Package metrics registers the Prometheus collectors the enrichment core
// exposes at /metrics: pipeline cost and station latency, provider health,
// queue depth, and mission round-trip time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineCost = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "goldenrecord",
		Subsystem: "pipeline",
		Name:      "cost_dollars",
		Help:      "Total dollar cost spent per completed pipeline run.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	StationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "goldenrecord",
		Subsystem: "pipeline",
		Name:      "station_duration_seconds",
		Help:      "Time spent executing a single pipeline station.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"station"})

	StationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldenrecord",
		Subsystem: "pipeline",
		Name:      "station_errors_total",
		Help:      "Count of station executions that returned an error.",
	}, []string{"station"})

	ProviderSuccessRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "goldenrecord",
		Subsystem: "provider",
		Name:      "success_rate",
		Help:      "Success rate for a GPS provider over all recorded missions.",
	}, []string{"provider"})

	ProviderBlacklisted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "goldenrecord",
		Subsystem: "provider",
		Name:      "blacklisted",
		Help:      "1 if the provider is currently blacklisted, 0 otherwise.",
	}, []string{"provider"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "goldenrecord",
		Subsystem: "worker",
		Name:      "queue_depth",
		Help:      "Number of leads currently waiting on a queue.",
	}, []string{"queue"})

	MissionRoundTrip = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "goldenrecord",
		Subsystem: "chimera",
		Name:      "mission_round_trip_seconds",
		Help:      "Time from mission dispatch to a reply being received on the BRPOP key.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 180},
	})

	MissionTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldenrecord",
		Subsystem: "chimera",
		Name:      "mission_timeouts_total",
		Help:      "Count of missions that timed out waiting for a reply, by provider.",
	}, []string{"provider"})
)
