// Package metrics provides the centralized Prometheus metrics registry for the odds service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trio_odds"

// Global registry instance
var (
	registry *prometheus.Registry
	once     sync.Once
)

// Counter metrics
var (
	BridgeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bridge_requests_total",
		Help:      "Total number of odds bridge requests by market and outcome",
	}, []string{"market", "outcome"})
	SynthesesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "syntheses_total",
		Help:      "Total number of synthetic odds computations",
	}, []string{"market", "mode"})
	SkippedEntriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "skipped_entries_total",
		Help:      "Pool entries excluded from computations by reason",
	}, []string{"reason"})
	SnapshotsStoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_stored_total",
		Help:      "Total number of odds snapshots persisted",
	})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by route and status code",
	}, []string{"route", "code"})
)

// Gauge metrics
var (
	CacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_cache_hit_ratio",
		Help:      "Hit ratio of the odds pool cache",
	})
	WebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Connected live odds subscribers",
	})
)

// Histogram metrics
var (
	BridgeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bridge_latency_seconds",
		Help:      "Odds bridge request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"market"})
	PoolSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pool_entries",
		Help:      "Number of entries in fetched odds pools",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// InitRegistry initializes the global Prometheus registry.
func InitRegistry() *prometheus.Registry {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		registry.MustRegister(BridgeRequestsTotal)
		registry.MustRegister(SynthesesTotal)
		registry.MustRegister(SkippedEntriesTotal)
		registry.MustRegister(SnapshotsStoredTotal)
		registry.MustRegister(HTTPRequestsTotal)

		registry.MustRegister(CacheHitRatio)
		registry.MustRegister(WebSocketClients)

		registry.MustRegister(BridgeLatency)
		registry.MustRegister(PoolSize)
		registry.MustRegister(HTTPRequestDuration)
	})
	return registry
}

// GetRegistry returns the global Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return InitRegistry()
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{})
}

// RecordBridgeRequest records an odds bridge call.
func RecordBridgeRequest(market, outcome string, durationSeconds float64) {
	BridgeRequestsTotal.WithLabelValues(market, outcome).Inc()
	BridgeLatency.WithLabelValues(market).Observe(durationSeconds)
}

// RecordPoolSize records the entry count of a fetched pool.
func RecordPoolSize(entries int) {
	PoolSize.Observe(float64(entries))
}

// RecordSynthesis records a synthetic odds computation. mode is "bulk" or "horse".
func RecordSynthesis(market, mode string) {
	SynthesesTotal.WithLabelValues(market, mode).Inc()
}

// RecordSkippedEntries records excluded pool entries.
func RecordSkippedEntries(reason string, n int) {
	if n <= 0 {
		return
	}
	SkippedEntriesTotal.WithLabelValues(reason).Add(float64(n))
}

// RecordSnapshotStored records a persisted snapshot.
func RecordSnapshotStored() {
	SnapshotsStoredTotal.Inc()
}

// RecordHTTPRequest records a served API request.
func RecordHTTPRequest(route, code string, durationSeconds float64) {
	HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(durationSeconds)
}

// UpdateCacheHitRatio updates the pool cache hit ratio gauge.
func UpdateCacheHitRatio(ratio float64) {
	CacheHitRatio.Set(ratio)
}

// UpdateWebSocketClients updates the live subscriber gauge.
func UpdateWebSocketClients(n int) {
	WebSocketClients.Set(float64(n))
}
