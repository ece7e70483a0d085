package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/apimlgw/internal/audit"
	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/config"
	"github.com/vyrodovalexey/apimlgw/internal/health"
	"github.com/vyrodovalexey/apimlgw/internal/middleware"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/security"
)

// Health endpoint paths. They are the same in both topologies.
const (
	HealthPath = "/application/health"
	InfoPath   = "/application/info"
)

// gin keeps its mode in package state.
var ginModeOnce sync.Once

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the gateway HTTP server.
type Gateway struct {
	config     *config.GatewayConfig
	mode       security.TopologyMode
	logger     observability.Logger
	pipeline   *security.Pipeline
	dispatcher security.ErrorDispatcher
	controller *Controller
	checker    *health.Checker
	upstream   http.Handler
	metrics    *middleware.Metrics
	headers    middleware.SecurityHeadersConfig
	tlsConfig  *tls.Config
	audit      audit.Logger

	engine   *gin.Engine
	handler  http.Handler
	allowed  map[string][]string
	listener *Listener

	state           atomic.Int32
	startTime       time.Time
	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.shutdownTimeout = timeout
		}
	}
}

// WithSecurity sets the authentication pipeline and the dispatcher that
// renders its rejections.
func WithSecurity(p *security.Pipeline, d security.ErrorDispatcher) Option {
	return func(g *Gateway) {
		g.pipeline = p
		g.dispatcher = d
	}
}

// WithAudit records the security chain's authentications and denials.
func WithAudit(a audit.Logger) Option {
	return func(g *Gateway) {
		g.audit = a
	}
}

// WithController sets the token controller.
func WithController(c *Controller) Option {
	return func(g *Gateway) {
		g.controller = c
	}
}

// WithHealthChecker sets the health checker behind the health endpoints.
func WithHealthChecker(c *health.Checker) Option {
	return func(g *Gateway) {
		g.checker = c
	}
}

// WithUpstream sets the handler for every path the gateway does not
// serve itself.
func WithUpstream(h http.Handler) Option {
	return func(g *Gateway) {
		g.upstream = h
	}
}

// WithHTTPMetrics sets the middleware metrics.
func WithHTTPMetrics(m *middleware.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithSecurityHeaders overrides the response security headers.
func WithSecurityHeaders(cfg middleware.SecurityHeadersConfig) Option {
	return func(g *Gateway) {
		g.headers = cfg
	}
}

// WithTLSConfig serves TLS with cfg.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(g *Gateway) {
		g.tlsConfig = cfg
	}
}

// New creates a gateway and builds its handler chain.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	mode, err := security.ParseTopology(cfg.Spec.Topology)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		config:          cfg,
		mode:            mode,
		logger:          observability.NopLogger(),
		headers:         middleware.DefaultSecurityHeaders(),
		allowed:         make(map[string][]string),
		shutdownTimeout: config.DefaultShutdownTimeout,
	}
	if d := cfg.Spec.Server.ShutdownTimeout.Duration(); d > 0 {
		g.shutdownTimeout = d
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.pipeline == nil || g.dispatcher == nil {
		return nil, fmt.Errorf("security pipeline and error dispatcher are required")
	}
	if g.controller == nil {
		return nil, fmt.Errorf("token controller is required")
	}
	if g.checker == nil {
		g.checker = health.NewChecker("", mode.String())
	}

	g.engine = g.buildEngine()
	g.handler = g.buildChain(g.engine)
	g.state.Store(int32(StateStopped))
	return g, nil
}

// Handler returns the complete handler chain.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Engine returns the gin engine behind the security pipeline.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Address returns the listener address.
func (g *Gateway) Address() string {
	if g.listener != nil {
		return g.listener.Address()
	}
	return net.JoinHostPort(g.config.Spec.Server.Address, strconv.Itoa(g.config.Spec.Server.Port))
}

// Start starts the gateway listener.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	g.logger.Info("starting gateway",
		observability.String("name", g.config.Metadata.Name),
		observability.String("topology", g.mode.String()),
	)

	server := g.config.Spec.Server
	g.listener = NewListener(g.Address(), g.handler,
		WithListenerLogger(g.logger),
		WithListenerTLS(g.tlsConfig),
		WithListenerTimeouts(server.ReadTimeout.Duration(), server.WriteTimeout.Duration()),
	)
	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("name", g.config.Metadata.Name),
		observability.String("address", g.listener.Address()),
	)
	return nil
}

// Stop stops the gateway gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}

	g.logger.Info("stopping gateway", observability.String("name", g.config.Metadata.Name))

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	err := g.listener.Stop(ctx)
	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped", observability.String("name", g.config.Metadata.Name))
	return err
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// buildChain wraps the engine, outermost first:
// Recovery -> RequestID -> Logging -> SecurityHeaders -> BodyLimit ->
// security pipeline -> RecordUser -> engine.
func (g *Gateway) buildChain(engine http.Handler) http.Handler {
	h := engine
	h = middleware.RecordUser()(h)
	h = security.Middleware(g.pipeline, g.dispatcher,
		security.WithUnhandled(g.unhandled),
		security.WithAudit(g.audit),
	)(h)
	h = middleware.BodyLimit(g.config.Spec.Server.MaxBodyBytes, g.logger, g.metrics)(h)
	h = middleware.SecurityHeaders(g.headers)(h)
	h = middleware.Logging(g.logger, g.metrics)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(g.logger, g.metrics)(h)
	return h
}

func (g *Gateway) buildEngine() *gin.Engine {
	ginModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), g.dispatchErrors)

	prefix := g.mode.GatewayPrefix()
	g.handle(engine, prefix+"/auth/login", g.controller.Login, http.MethodPost)
	g.handle(engine, prefix+"/auth/logout", g.controller.Logout, http.MethodPost, http.MethodDelete)
	g.handle(engine, prefix+"/auth/query", g.controller.Query, http.MethodGet)
	g.handle(engine, prefix+"/auth/certificate", g.controller.Certificate, http.MethodGet)
	g.handle(engine, HealthPath, gin.WrapF(g.checker.HealthHandler()), http.MethodGet)
	g.handle(engine, InfoPath, gin.WrapF(g.checker.InfoHandler()), http.MethodGet)

	engine.NoMethod(g.noMethod)
	engine.NoRoute(g.noRoute)
	return engine
}

func (g *Gateway) handle(engine *gin.Engine, p string, h gin.HandlerFunc, methods ...string) {
	for _, m := range methods {
		engine.Handle(m, p, h)
		if m == http.MethodGet {
			engine.Handle(http.MethodHead, p, h)
		}
	}
	g.allowed[p] = append(g.allowed[p], methods...)
}

// dispatchErrors renders the last error a handler recorded with
// ctx.Error, unless the handler already wrote a response.
func (g *Gateway) dispatchErrors(c *gin.Context) {
	c.Next()

	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}
	g.dispatch(c, c.Errors.Last().Err)
}

func (g *Gateway) noMethod(c *gin.Context) {
	allowed := g.allowed[path.Clean(c.Request.URL.Path)]
	g.dispatch(c, auth.NewMethodNotSupported(c.Request.Method, allowed))
}

func (g *Gateway) noRoute(c *gin.Context) {
	if g.upstream == nil {
		g.dispatch(c, auth.NewError(auth.KindNotFound, "no upstream configured"))
		return
	}
	g.upstream.ServeHTTP(c.Writer, c.Request)
}

func (g *Gateway) dispatch(c *gin.Context, err error) {
	if security.IsCanceled(err) {
		c.Abort()
		return
	}
	if derr := g.dispatcher.Dispatch(c.Writer, c.Request, err); derr != nil {
		g.unhandled(c.Writer, c.Request, derr)
	}
	c.Abort()
}

// unhandled writes a plain 500 for failures the dispatcher leaves to
// the container, and logs them.
func (g *Gateway) unhandled(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.WithContext(r.Context()).Error("unhandled request failure",
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
