package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/apimlgw/internal/audit"
	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/auth/basic"
	"github.com/vyrodovalexey/apimlgw/internal/auth/jwt"
	"github.com/vyrodovalexey/apimlgw/internal/auth/mtls"
	"github.com/vyrodovalexey/apimlgw/internal/auth/oidc"
	"github.com/vyrodovalexey/apimlgw/internal/authclient"
	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/internal/config"
	"github.com/vyrodovalexey/apimlgw/internal/errorhandler"
	"github.com/vyrodovalexey/apimlgw/internal/gateway"
	"github.com/vyrodovalexey/apimlgw/internal/health"
	"github.com/vyrodovalexey/apimlgw/internal/middleware"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/retry"
	"github.com/vyrodovalexey/apimlgw/internal/security"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "apimlgw"

// application holds all application components.
type application struct {
	config        *config.GatewayConfig
	gateway       *gateway.Gateway
	checker       *health.Checker
	registry      *prometheus.Registry
	tracer        *observability.Tracer
	redis         *redis.Client
	audit         audit.Logger
	trustedKeys   *certificate.TrustedKeySet
	keyWatcher    *certificate.KeyFileWatcher
	metricsServer *http.Server
}

// newApplication wires every component from cfg. Nothing is listening
// yet when it returns.
func newApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	mode, err := security.ParseTopology(cfg.Spec.Topology)
	if err != nil {
		return nil, err
	}

	app := &application{config: cfg, registry: prometheus.NewRegistry()}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app.tracer, err = initTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	app.audit, err = initAuditLogger(cfg, logger, app.registry)
	if err != nil {
		return nil, err
	}

	categorizer, err := app.initCategorizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.checker = health.NewChecker(version, mode.String(),
		health.WithMetrics(health.NewMetricsWithRegisterer(metricsNamespace, app.registry)),
	)

	verifier, err := app.initVerifier(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	extractors := security.Extractors{
		Basic:  basic.NewExtractor(verifier, basic.WithLogger(logger)),
		Bearer: jwt.NewExtractor(verifier, jwt.WithCookieName(cfg.Spec.Auth.CookieName), jwt.WithLogger(logger)),
		X509:   mtls.NewExtractor(verifier, mtls.WithLogger(logger)),
		OIDC:   oidc.NewExtractor(verifier, oidc.WithHeader(cfg.Spec.Auth.OIDCHeader), oidc.WithLogger(logger)),
	}
	rules, err := security.BuildRules(mode, extractors, cfg.Spec.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build security rules: %w", err)
	}
	router, err := security.NewRouter(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build security router: %w", err)
	}
	pipeline := security.NewPipeline(categorizer, router,
		security.WithPipelineLogger(logger),
		security.WithPipelineMetrics(security.NewMetricsWithRegisterer(metricsNamespace, app.registry)),
		security.WithPipelineTracer(app.tracer.Tracer()),
	)

	dispatcher := errorhandler.New(mode,
		errorhandler.WithLogger(logger),
		errorhandler.WithMetrics(errorhandler.NewMetricsWithRegisterer(metricsNamespace, app.registry)),
	)

	controllerOpts := []gateway.ControllerOption{
		gateway.WithCookieName(cfg.Spec.Auth.CookieName),
		gateway.WithControllerLogger(logger),
		gateway.WithControllerAudit(app.audit),
	}
	if l := cfg.Spec.Auth.Login; l != nil {
		controllerOpts = append(controllerOpts, gateway.WithLoginRateLimit(l.RequestsPerSecond, l.Burst))
	}

	tlsConfig, err := gateway.ServerTLSConfig(cfg.Spec.Server.TLS)
	if err != nil {
		return nil, err
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithSecurity(pipeline, dispatcher),
		gateway.WithAudit(app.audit),
		gateway.WithController(gateway.NewController(verifier, controllerOpts...)),
		gateway.WithHealthChecker(app.checker),
		gateway.WithHTTPMetrics(middleware.NewMetricsWithRegisterer(metricsNamespace, app.registry)),
		gateway.WithTLSConfig(tlsConfig),
	}
	if u := cfg.Spec.Upstream.URL; u != "" {
		proxy, perr := gateway.NewUpstreamProxy(u, categorizer.Header(), logger)
		if perr != nil {
			return nil, perr
		}
		opts = append(opts, gateway.WithUpstream(proxy))
	}

	app.gateway, err = gateway.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	if err := app.startKeyWatcher(ctx, cfg, logger); err != nil {
		return nil, err
	}
	return app, nil
}

// startKeyWatcher follows rewrites of the trusted gateway certificate
// files when enabled.
func (app *application) startKeyWatcher(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) error {
	certs := cfg.Spec.Certificates
	if !certs.WatchTrustedGatewayCertFiles || len(certs.TrustedGatewayCertFiles) == 0 {
		return nil
	}

	w, err := certificate.NewKeyFileWatcher(app.trustedKeys, certs.TrustedGatewayCertFiles,
		certificate.WithWatcherLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create certificate watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return fmt.Errorf("failed to watch trusted gateway certificates: %w", err)
	}
	app.keyWatcher = w
	return nil
}

// initTracer initializes the tracer.
func initTracer(ctx context.Context, cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tracerCfg := observability.TracerConfig{
		ServiceName:  "apimlgw",
		SamplingRate: 1.0,
	}
	if cfg.Spec.Observability != nil && cfg.Spec.Observability.Tracing != nil {
		t := cfg.Spec.Observability.Tracing
		tracerCfg.Enabled = t.Enabled
		tracerCfg.SamplingRate = t.SamplingRate
		tracerCfg.OTLPEndpoint = t.OTLPEndpoint
		if t.ServiceName != "" {
			tracerCfg.ServiceName = t.ServiceName
		}
	}
	return observability.NewTracer(ctx, tracerCfg)
}

// initAuditLogger creates the audit trail. A missing or disabled
// section yields a no-op logger.
func initAuditLogger(
	cfg *config.GatewayConfig,
	logger observability.Logger,
	registry prometheus.Registerer,
) (audit.Logger, error) {
	a := cfg.Spec.Audit
	if a == nil || !a.Enabled {
		return audit.NewNoopLogger(), nil
	}

	auditCfg := &audit.Config{
		Enabled:   true,
		Output:    a.Output,
		Format:    a.Format,
		SkipPaths: a.SkipPaths,
	}
	if e := a.Events; e != nil {
		auditCfg.Events = &audit.EventsConfig{
			Authentication: e.Authentication,
			Authorization:  e.Authorization,
			Security:       e.Security,
		}
	}

	l, err := audit.NewLogger(auditCfg,
		audit.WithLoggerLogger(logger),
		audit.WithLoggerMetrics(audit.NewMetricsWithRegisterer(metricsNamespace, registry)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	logger.Info("audit logging enabled",
		observability.String("output", auditCfg.GetEffectiveOutput()),
		observability.String("format", auditCfg.GetEffectiveFormat()),
	)
	return l, nil
}

// initCategorizer seeds the trusted key set with the configured peer
// gateway certificates.
func (app *application) initCategorizer(
	cfg *config.GatewayConfig,
	logger observability.Logger,
) (*certificate.Categorizer, error) {
	metrics := certificate.NewMetricsWithRegisterer(metricsNamespace, app.registry)
	keys := certificate.NewTrustedKeySet(certificate.WithChangeHook(metrics.SetTrustedKeys))

	certs := cfg.Spec.Certificates
	n, err := keys.SeedFromFiles(certs.TrustedGatewayCertFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load trusted gateway certificates: %w", err)
	}
	logger.Info("trusted gateway keys loaded",
		observability.Int("keys", n),
		observability.Bool("forwarding", certs.ForwardingEnabled),
	)
	app.trustedKeys = keys

	return certificate.NewCategorizer(keys,
		certificate.WithForwarding(certs.ForwardingEnabled),
		certificate.WithForwardHeader(certs.ForwardHeader),
		certificate.WithCategorizerLogger(logger),
		certificate.WithCategorizerMetrics(metrics),
	), nil
}

// initVerifier builds the verifier chain: the authentication service
// client, the Redis cache in front of it and the local Basic users.
// Health checks are registered for the remote parts.
func (app *application) initVerifier(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
) (auth.Verifier, error) {
	a := cfg.Spec.Auth
	metrics := authclient.NewMetricsWithRegisterer(metricsNamespace, app.registry)

	var verifier auth.Verifier = authclient.Unavailable{}
	if a.ServiceURL != "" {
		opts := []authclient.Option{
			authclient.WithTimeout(a.Timeout.Duration()),
			authclient.WithLogger(logger),
			authclient.WithMetrics(metrics),
			authclient.WithTracer(app.tracer.Tracer()),
		}
		if cb := a.CircuitBreaker; cb != nil && cb.Enabled {
			opts = append(opts, authclient.WithCircuitBreaker(cb.Threshold, cb.Timeout.Duration()))
		}
		client, err := authclient.New(a.ServiceURL, opts...)
		if err != nil {
			return nil, err
		}
		app.checker.RegisterCheck("authService", health.BreakerCheck(client.State))
		verifier = client
	}

	if c := a.Cache; c != nil && c.Enabled && a.ServiceURL != "" {
		connect := &retry.Config{MaxRetries: c.ConnectRetries, InitialBackoff: c.ConnectBackoff.Duration()}
		rc, err := authclient.NewRedisClient(ctx, c.Address, c.Password, c.DB, connect)
		if err != nil {
			return nil, err
		}
		app.redis = rc
		app.checker.RegisterCheck("cache", health.RedisCheck(rc))
		verifier = authclient.NewCachingVerifier(verifier, rc,
			authclient.WithCacheTTL(c.TTL.Duration()),
			authclient.WithKeyPrefix(c.KeyPrefix),
			authclient.WithCacheLogger(logger),
			authclient.WithCacheMetrics(metrics),
		)
	}

	if len(a.LocalUsers) > 0 {
		users := make([]basic.User, 0, len(a.LocalUsers))
		for _, u := range a.LocalUsers {
			users = append(users, basic.User{Username: u.Username, PasswordHash: u.PasswordHash})
		}
		store, err := basic.NewMemoryStore(users...)
		if err != nil {
			return nil, err
		}
		verifier = authclient.WithBasic(verifier, store)
	}

	return verifier, nil
}

// close releases resources that outlive the listeners.
func (app *application) close(ctx context.Context, logger observability.Logger) {
	if app.keyWatcher != nil {
		if err := app.keyWatcher.Stop(); err != nil {
			logger.Error("failed to stop certificate watcher", observability.Error(err))
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			logger.Error("failed to close redis client", observability.Error(err))
		}
	}
	if err := app.audit.Close(); err != nil {
		logger.Error("failed to close audit logger", observability.Error(err))
	}
	if err := app.tracer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}
}
