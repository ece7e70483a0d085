package certificate

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for certificate categorization.
type Metrics struct {
	categorizations *prometheus.CounterVec
	forwardedHeader *prometheus.CounterVec
	trustedKeys     prometheus.Gauge
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
		categorizations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "certificate",
				Name:      "categorizations_total",
				Help:      "Total number of certificate categorizations by branch",
			},
			[]string{"branch"},
		),
		forwardedHeader: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "certificate",
				Name:      "forwarded_header_total",
				Help:      "Total number of forwarded certificate headers by outcome",
			},
			[]string{"result"},
		),
		trustedKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "certificate",
				Name:      "trusted_keys",
				Help:      "Number of public keys in the trusted gateway key set",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.categorizations, m.forwardedHeader, m.trustedKeys} {
		// Duplicate registration is expected in tests.
		_ = registerer.Register(c)
	}

	return m
}

// RecordCategorization counts one categorization.
func (m *Metrics) RecordCategorization(b Branch) {
	m.categorizations.WithLabelValues(string(b)).Inc()
}

// RecordForwardedHeader counts one forwarding header outcome.
func (m *Metrics) RecordForwardedHeader(result string) {
	m.forwardedHeader.WithLabelValues(result).Inc()
}

// SetTrustedKeys sets the trusted key gauge. It has the signature of a
// TrustedKeySet change hook.
func (m *Metrics) SetTrustedKeys(n int) {
	m.trustedKeys.Set(float64(n))
}
