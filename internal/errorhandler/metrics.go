package errorhandler

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts error responses.
type Metrics struct {
	errorsTotal *prometheus.CounterVec
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
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of error responses written by the dispatcher",
			},
			[]string{"status", "message_key"},
		),
	}
	_ = registerer.Register(m.errorsTotal)
	return m
}

// RecordError records one error response.
func (m *Metrics) RecordError(status int, key string) {
	m.errorsTotal.WithLabelValues(strconv.Itoa(status), key).Inc()
}
