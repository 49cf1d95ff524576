package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tryon_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_inbound_events_total",
			Help: "Inbound webhook events by the session state they were handled in",
		},
		[]string{"state"},
	)

	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_duplicate_events_total",
			Help: "Inbound events ignored because they were already handled",
		},
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_pipeline_runs_total",
			Help: "Try-on pipeline runs",
		},
		[]string{"outcome"}, // "success" or "failure"
	)

	// AssetLookups counts cache hits and misses per operation.
	AssetLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_asset_lookups_total",
			Help: "Asset cache lookups",
		},
		[]string{"op", "result"}, // op: "fetch"/"compose", result: "hit"/"miss"/"error"
	)

	// Infrastructure metrics
	FetchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tryon_fetch_latency_seconds",
			Help:    "Provider media download latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	ComposeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tryon_compose_latency_seconds",
			Help:    "Remote composition latency",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tryon_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)
)
