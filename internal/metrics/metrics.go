package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "source_requests_total",
		Help:      "Total requests to content sources by source name and result status.",
	}, []string{"source", "status"})

	SourceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "source_request_duration_seconds",
		Help:      "Content source request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"source"})

	SourceAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "source_available",
		Help:      "Whether a source circuit breaker is closed (1) or open (0).",
	}, []string{"source"})

	SearchResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "results_total",
		Help:      "Search outcomes by result (hit, miss, empty, error).",
	}, []string{"result"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_hits_total",
		Help:      "Total cache hits by backend.",
	}, []string{"backend"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_misses_total",
		Help:      "Total cache misses by backend.",
	}, []string{"backend"})

	CacheBackendMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "cache_backend_distributed",
		Help:      "Whether the cache serves from the distributed backend (1) or the local fallback (0).",
	})

	CacheFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_fallbacks_total",
		Help:      "Total transitions from the distributed cache to the local fallback.",
	})

	CacheReconnectAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_reconnect_attempts_total",
		Help:      "Distributed cache reconnect attempts by result.",
	}, []string{"result"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SourceRequestsTotal,
		SourceRequestDuration,
		SourceAvailable,
		SearchResultsTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheBackendMode,
		CacheFallbacksTotal,
		CacheReconnectAttemptsTotal,
	)
}
