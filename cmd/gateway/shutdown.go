package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// runGateway starts the gateway and blocks until a shutdown signal.
func runGateway(ctx context.Context, app *application, logger observability.Logger) {
	if err := app.gateway.Start(ctx); err != nil {
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	startMetricsServerIfEnabled(app, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdown(app, logger)
}

// shutdown stops the listeners and then releases the remaining
// resources, all within the configured shutdown timeout.
func shutdown(app *application, logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Spec.Server.ShutdownTimeout.Duration())
	defer cancel()

	if app.metricsServer != nil {
		logger.Info("stopping metrics server")
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if app.gateway.IsRunning() {
		if err := app.gateway.Stop(ctx); err != nil {
			logger.Error("failed to stop gateway gracefully", observability.Error(err))
		}
	}

	app.close(ctx, logger)
	logger.Info("gateway stopped")
}
