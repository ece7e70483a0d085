package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Listener timeouts applied when the configuration leaves them unset.
const (
	DefaultReadTimeout       = 30 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
)

// Listener represents the gateway's HTTP(S) listener.
type Listener struct {
	address      string
	handler      http.Handler
	tlsConfig    *tls.Config
	readTimeout  time.Duration
	writeTimeout time.Duration
	logger       observability.Logger

	server  *http.Server
	bound   atomic.Value // net.Addr
	running atomic.Bool
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// WithListenerTLS serves TLS with cfg.
func WithListenerTLS(cfg *tls.Config) ListenerOption {
	return func(l *Listener) {
		l.tlsConfig = cfg
	}
}

// WithListenerTimeouts overrides the read and write timeouts. Zero keeps
// the default.
func WithListenerTimeouts(read, write time.Duration) ListenerOption {
	return func(l *Listener) {
		if read > 0 {
			l.readTimeout = read
		}
		if write > 0 {
			l.writeTimeout = write
		}
	}
}

// NewListener creates a new listener for address.
func NewListener(address string, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		address:      address,
		handler:      handler,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Address returns the bound address once started, else the configured one.
func (l *Listener) Address() string {
	if addr, ok := l.bound.Load().(net.Addr); ok {
		return addr.String()
	}
	return l.address
}

// Start starts the listener.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener %s is already running", l.address)
	}

	l.server = &http.Server{
		Addr:              l.address,
		Handler:           l.handler,
		TLSConfig:         l.tlsConfig,
		ReadTimeout:       l.readTimeout,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      l.writeTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.address, err)
	}
	l.bound.Store(ln.Addr())
	if l.tlsConfig != nil {
		ln = tls.NewListener(ln, l.tlsConfig)
	}

	l.running.Store(true)
	l.logger.Info("listener started",
		observability.String("address", l.Address()),
		observability.Bool("tls", l.tlsConfig != nil),
	)

	go l.serve(ln)
	return nil
}

func (l *Listener) serve(ln net.Listener) {
	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("address", l.Address()),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop stops the listener gracefully.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.Load() {
		return nil
	}

	l.logger.Info("stopping listener", observability.String("address", l.Address()))

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}

	l.running.Store(false)
	l.logger.Info("listener stopped", observability.String("address", l.Address()))
	return nil
}

// IsRunning returns true if the listener is running.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
