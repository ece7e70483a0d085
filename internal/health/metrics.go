package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for health checks.
type Metrics struct {
	checkStatus *prometheus.GaugeVec
}

// NewMetrics registers health metrics with the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer registers health metrics with registerer.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "apimlgw"
	}
	m := &Metrics{
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current health check status (1=healthy, 0.5=degraded, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}
	_ = registerer.Register(m.checkStatus)
	return m
}

// SetCheckStatus records the latest status of a check.
func (m *Metrics) SetCheckStatus(check string, status Status) {
	var v float64
	switch status {
	case StatusHealthy:
		v = 1
	case StatusDegraded:
		v = 0.5
	}
	m.checkStatus.WithLabelValues(check).Set(v)
}
