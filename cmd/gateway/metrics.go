package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vyrodovalexey/apimlgw/internal/health"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Metrics listener defaults.
const (
	defaultMetricsPort = 9090
	defaultMetricsPath = "/metrics"
)

// createMetricsServer creates the metrics HTTP server. It also serves
// the health endpoints so probes need no gateway credentials or TLS.
func createMetricsServer(
	port int,
	path string,
	registry *prometheus.Registry,
	checker *health.Checker,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	mux.HandleFunc("/health", checker.HealthHandler())
	mux.HandleFunc("/info", checker.InfoHandler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", path),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	obs := app.config.Spec.Observability
	if obs == nil || obs.Metrics == nil || !obs.Metrics.Enabled {
		return
	}

	path := obs.Metrics.Path
	if path == "" {
		path = defaultMetricsPath
	}
	port := obs.Metrics.Port
	if port == 0 {
		port = defaultMetricsPort
	}

	app.metricsServer = createMetricsServer(port, path, app.registry, app.checker, logger)
	go runMetricsServer(app.metricsServer, logger)
}
