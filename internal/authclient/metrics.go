package authclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication service calls.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
	breakerState    prometheus.Gauge
}

// NewMetrics creates metrics registered with prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates metrics registered with registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "apimlgw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authclient",
				Name:      "requests_total",
				Help:      "Total number of authentication service calls",
			},
			[]string{"operation", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "authclient",
				Name:      "request_duration_seconds",
				Help:      "Authentication service call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authclient",
				Name:      "cache_hits_total",
				Help:      "Total number of verification cache hits",
			},
			[]string{"operation"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authclient",
				Name:      "cache_misses_total",
				Help:      "Total number of verification cache misses",
			},
			[]string{"operation"},
		),
		cacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authclient",
				Name:      "cache_errors_total",
				Help:      "Total number of verification cache errors",
			},
			[]string{"operation"},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "authclient",
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.cacheHits, m.cacheMisses, m.cacheErrors, m.breakerState,
	} {
		_ = registerer.Register(c)
	}

	return m
}

// RecordRequest records one service call.
func (m *Metrics) RecordRequest(operation, status string, d time.Duration) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCacheHit records a cache hit.
func (m *Metrics) RecordCacheHit(operation string) {
	m.cacheHits.WithLabelValues(operation).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(operation string) {
	m.cacheMisses.WithLabelValues(operation).Inc()
}

// RecordCacheError records a cache failure.
func (m *Metrics) RecordCacheError(operation string) {
	m.cacheErrors.WithLabelValues(operation).Inc()
}

// SetBreakerState records the breaker state.
func (m *Metrics) SetBreakerState(state int) {
	m.breakerState.Set(float64(state))
}
