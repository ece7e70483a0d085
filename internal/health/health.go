package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the service is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the service is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the service is degraded but operational.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a single health request.
const DefaultCheckTimeout = 2 * time.Second

// Response is the body of /application/health.
type Response struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// InfoResponse is the body of /application/info.
type InfoResponse struct {
	Version  string   `json:"version,omitempty"`
	Topology string   `json:"topology"`
	Uptime   string   `json:"uptime"`
	Checks   []string `json:"checks,omitempty"`
}

// Check represents an individual health check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker aggregates registered checks.
type Checker struct {
	version   string
	topology  string
	startTime time.Time
	timeout   time.Duration
	metrics   *Metrics
	checks    map[string]CheckFunc
	mu        sync.RWMutex
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds how long a health request may spend in checks.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a new health checker.
func NewChecker(version, topology string, opts ...Option) *Checker {
	c := &Checker{
		version:   version,
		topology:  topology,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		checks:    make(map[string]CheckFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterCheck registers a health check function.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Health runs every check and aggregates the worst status.
func (c *Checker) Health(ctx context.Context) Response {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	response := Response{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(checks)),
		Timestamp: time.Now(),
	}

	for name, fn := range checks {
		check := fn(ctx)
		response.Checks[name] = check
		if c.metrics != nil {
			c.metrics.SetCheckStatus(name, check.Status)
		}

		if check.Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
			response.Status = StatusDegraded
		}
	}

	return response
}

// Info describes the running instance.
func (c *Checker) Info() InfoResponse {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)

	return InfoResponse{
		Version:  c.version,
		Topology: c.topology,
		Uptime:   time.Since(c.startTime).Round(time.Second).String(),
		Checks:   names,
	}
}

// HealthHandler returns an HTTP handler for the health endpoint.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Health(r.Context())

		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, response)
	}
}

// InfoHandler returns an HTTP handler for the info endpoint.
func (c *Checker) InfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Info())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
