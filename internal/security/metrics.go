package security

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline outcomes recorded in metrics.
const (
	OutcomeProceed  = "proceed"
	OutcomeRejected = "rejected"
	OutcomeCanceled = "canceled"
)

// Extractor results recorded in metrics.
const (
	ExtractorSuccess  = "success"
	ExtractorFailure  = "failure"
	ExtractorDeclined = "declined"
)

// Metrics contains authentication pipeline metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	extractorTotal  *prometheus.CounterVec
	pipelineSeconds *prometheus.HistogramVec
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
				Subsystem: "security",
				Name:      "requests_total",
				Help:      "Total number of requests through the authentication pipeline",
			},
			[]string{"rule", "outcome"},
		),
		extractorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "extractor_total",
				Help:      "Total number of credential extractor invocations",
			},
			[]string{"extractor", "result"},
		),
		pipelineSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "security",
				Name:      "pipeline_duration_seconds",
				Help:      "Authentication pipeline duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"rule"},
		),
	}

	_ = registerer.Register(m.requestsTotal)
	_ = registerer.Register(m.extractorTotal)
	_ = registerer.Register(m.pipelineSeconds)

	return m
}

// RecordRequest records the outcome of one pipeline run.
func (m *Metrics) RecordRequest(rule, outcome string, d time.Duration) {
	m.requestsTotal.WithLabelValues(rule, outcome).Inc()
	m.pipelineSeconds.WithLabelValues(rule).Observe(d.Seconds())
}

// RecordExtractor records one extractor invocation.
func (m *Metrics) RecordExtractor(extractor, result string) {
	m.extractorTotal.WithLabelValues(extractor, result).Inc()
}
