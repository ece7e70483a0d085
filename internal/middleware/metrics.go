package middleware

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the HTTP middleware chain.
type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	bodyLimitRejected prometheus.Counter
	panicsRecovered   prometheus.Counter
}

// NewMetrics registers middleware metrics with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers middleware metrics with registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "apimlgw"
	}
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		bodyLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "body_limit_rejected_total",
				Help:      "Total number of requests rejected for an oversized body",
			},
		),
		panicsRecovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "panics_recovered_total",
				Help:      "Total number of panics recovered by the middleware chain",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.requestsTotal, m.requestDuration, m.bodyLimitRejected, m.panicsRecovered} {
		_ = registerer.Register(c)
	}
	return m
}

func (m *Metrics) recordRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) recordBodyLimitRejected() {
	if m != nil {
		m.bodyLimitRejected.Inc()
	}
}

func (m *Metrics) recordPanic() {
	if m != nil {
		m.panicsRecovered.Inc()
	}
}
