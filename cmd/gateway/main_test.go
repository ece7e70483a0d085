package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/audit"
	"github.com/vyrodovalexey/apimlgw/internal/auth/basic"
	"github.com/vyrodovalexey/apimlgw/internal/config"
	"github.com/vyrodovalexey/apimlgw/internal/errorhandler"
	"github.com/vyrodovalexey/apimlgw/internal/gateway"
	"github.com/vyrodovalexey/apimlgw/internal/health"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/test/helpers"
)

// authService fakes the token endpoint of the authentication service
// and counts its calls.
type authService struct {
	calls atomic.Int32
}

func (s *authService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	var body struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/verify/token" || body.Token != "good" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"reason":"invalid","message":"unknown token"}`)
		return
	}
	_, _ = io.WriteString(w, `{"userId":"bob","groups":["dev"]}`)
}

func testConfig(t *testing.T, serviceURL string) *config.GatewayConfig {
	t.Helper()

	hash, err := basic.HashPassword("secret")
	require.NoError(t, err)

	cfg := &config.GatewayConfig{
		Metadata: config.Metadata{Name: "test"},
		Spec: config.GatewaySpec{
			Topology: config.TopologyModulith,
			Auth: config.AuthConfig{
				ServiceURL:     serviceURL,
				LocalUsers:     []config.LocalUser{{Username: "alice", PasswordHash: hash}},
				CircuitBreaker: &config.CircuitBreakerConfig{Enabled: true, Threshold: 3, Timeout: config.Duration(time.Second)},
			},
			Rules: []config.RuleConfig{{
				Name: "admin", Order: 200, Paths: []string{"/admin/**"},
				Extractors: []string{config.ExtractorBearer}, Policy: config.PolicyExpression,
				Expression: `"admin" in principal.groups`,
			}},
		},
	}
	cfg.ApplyDefaults()
	require.NoError(t, config.ValidateConfig(cfg))
	return cfg
}

func serve(app *application, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.gateway.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewApplication_Wiring(t *testing.T) {
	t.Parallel()

	svc := &authService{}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	app, err := newApplication(context.Background(), testConfig(t, srv.URL), observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background(), observability.NopLogger()) })

	t.Run("local basic user logs in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/gateway/auth/login", nil)
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("alice:secret")))

		rec := serve(app, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("token verified by the service", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/auth/query", nil)
		req.Header.Set("Authorization", "Bearer good")

		rec := serve(app, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp gateway.QueryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "bob", resp.UserID)
	})

	t.Run("custom rule denies non admins", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
		req.Header.Set("Authorization", "Bearer good")

		rec := serve(app, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("health reports the breaker", func(t *testing.T) {
		resp := app.checker.Health(context.Background())
		assert.Equal(t, health.StatusHealthy, resp.Status)
		assert.Contains(t, resp.Checks, "authService")
	})

	t.Run("metrics are registered", func(t *testing.T) {
		families, err := app.registry.Gather()
		require.NoError(t, err)
		names := make(map[string]bool, len(families))
		for _, f := range families {
			names[f.GetName()] = true
		}
		assert.True(t, names["apimlgw_security_requests_total"])
		assert.True(t, names["apimlgw_errors_total"])
	})
}

func TestNewApplication_Cache(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	svc := &authService{}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	cfg := testConfig(t, srv.URL)
	cfg.Spec.Auth.Cache = &config.CacheConfig{Enabled: true, Address: mr.Addr()}
	cfg.ApplyDefaults()

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background(), observability.NopLogger()) })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/auth/query", nil)
		req.Header.Set("Authorization", "Bearer good")
		require.Equal(t, http.StatusOK, serve(app, req).Code)
	}
	assert.Equal(t, int32(1), svc.calls.Load())
	assert.Contains(t, app.checker.Health(context.Background()).Checks, "cache")
}

func TestNewApplication_LocalUsersOnly(t *testing.T) {
	t.Parallel()

	app, err := newApplication(context.Background(), testConfig(t, ""), observability.NopLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/auth/query", nil)
	req.Header.Set("Authorization", "Bearer any")
	rec := serve(app, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body errorhandler.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errorhandler.KeyServiceUnavailable, body.Messages[0].Key)
}

func TestNewApplication_TrustedCertificates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	peer := helpers.NewServer(t, "peer-gateway", nil)
	certFile, _ := peer.WriteFiles(t, dir, "peer")

	cfg := testConfig(t, "")
	cfg.Spec.Certificates.ForwardingEnabled = true
	cfg.Spec.Certificates.TrustedGatewayCertFiles = []string{certFile}

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	families, err := app.registry.Gather()
	require.NoError(t, err)
	var trusted float64
	for _, f := range families {
		if f.GetName() == "apimlgw_certificate_trusted_keys" {
			trusted = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), trusted)
	assert.Nil(t, app.keyWatcher)
}

func TestNewApplication_WatchesTrustedCertificates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	peer := helpers.NewServer(t, "peer-gateway", nil)
	rotated := helpers.NewServer(t, "peer-gateway-rotated", nil)
	certFile, _ := peer.WriteFiles(t, dir, "peer")

	cfg := testConfig(t, "")
	cfg.Spec.Certificates.ForwardingEnabled = true
	cfg.Spec.Certificates.TrustedGatewayCertFiles = []string{certFile}
	cfg.Spec.Certificates.WatchTrustedGatewayCertFiles = true

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background(), observability.NopLogger()) })
	require.NotNil(t, app.keyWatcher)

	tmp := certFile + ".new"
	require.NoError(t, os.WriteFile(tmp, rotated.CertPEM, 0o600))
	require.NoError(t, os.Rename(tmp, certFile))

	require.Eventually(t, func() bool {
		return app.trustedKeys.Snapshot().Trusts(rotated.Cert)
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, app.trustedKeys.Snapshot().Trusts(peer.Cert))
}

func TestNewApplication_Audit(t *testing.T) {
	t.Parallel()

	svc := &authService{}
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "audit.log")
	cfg := testConfig(t, srv.URL)
	cfg.Spec.Audit = &config.AuditConfig{Enabled: true, Output: path, SkipPaths: []string{"/application/*"}}

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	for _, p := range []string{"/api/v1/gateway/auth/query", "/admin/users"} {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		req.Header.Set("Authorization", "Bearer good")
		serve(app, req)
	}
	app.close(context.Background(), observability.NopLogger())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var query, admin audit.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &query))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &admin))

	assert.Equal(t, audit.OutcomeSuccess, query.Outcome)
	assert.Equal(t, "bob", query.Subject.ID)
	assert.Equal(t, "query", query.Resource.Rule)
	assert.Equal(t, audit.EventTypeAuthorization, admin.Type)
	assert.Equal(t, audit.OutcomeDenied, admin.Outcome)
	assert.Equal(t, "admin", admin.Resource.Rule)
}

func TestNewApplication_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.GatewayConfig)
	}{
		{"unknown topology", func(c *config.GatewayConfig) { c.Spec.Topology = "mesh" }},
		{"unwritable audit file", func(c *config.GatewayConfig) {
			c.Spec.Audit = &config.AuditConfig{Enabled: true, Output: "/nonexistent/dir/audit.log"}
		}},
		{"missing trusted certificate", func(c *config.GatewayConfig) {
			c.Spec.Certificates.TrustedGatewayCertFiles = []string{"/nonexistent/peer.pem"}
		}},
		{"bad custom rule", func(c *config.GatewayConfig) { c.Spec.Rules[0].Expression = "principal.(" }},
		{"unreachable cache", func(c *config.GatewayConfig) {
			c.Spec.Auth.ServiceURL = "http://127.0.0.1:1"
			c.Spec.Auth.Cache = &config.CacheConfig{Enabled: true, Address: "127.0.0.1:1"}
		}},
		{"missing server key pair", func(c *config.GatewayConfig) {
			c.Spec.Server.TLS = &config.TLSConfig{CertFile: "/nonexistent.pem", KeyFile: "/nonexistent.key"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t, "")
			tt.mutate(cfg)
			_, err := newApplication(context.Background(), cfg, observability.NopLogger())
			assert.Error(t, err)
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("GATEWAY_LOG_LEVEL", "debug")

	f := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"-config", "/etc/gw.yaml", "-version"})

	assert.Equal(t, "/etc/gw.yaml", f.configPath)
	assert.Equal(t, "debug", f.logLevel)
	assert.Empty(t, f.logFormat)
	assert.True(t, f.showVersion)
}

func TestLogConfig_Precedence(t *testing.T) {
	t.Parallel()

	cfg := &config.GatewayConfig{Spec: config.GatewaySpec{Observability: &config.ObservabilityConfig{
		Logging: &config.LoggingConfig{Level: "warn", Format: "console", Output: "stderr"},
	}}}

	lc := logConfig(cliFlags{}, nil)
	assert.Equal(t, observability.DefaultLogConfig(), lc)

	lc = logConfig(cliFlags{}, cfg)
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "console", lc.Format)
	assert.Equal(t, "stderr", lc.Output)

	lc = logConfig(cliFlags{logLevel: "error"}, cfg)
	assert.Equal(t, "error", lc.Level)
	assert.Equal(t, "console", lc.Format)
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("APIMLGW_TEST_VALUE", "set")

	assert.Equal(t, "set", getEnvOrDefault("APIMLGW_TEST_VALUE", "default"))
	assert.Equal(t, "default", getEnvOrDefault("APIMLGW_TEST_UNSET", "default"))
}

func TestMetricsServer(t *testing.T) {
	t.Parallel()

	app, err := newApplication(context.Background(), testConfig(t, ""), observability.NopLogger())
	require.NoError(t, err)

	server := createMetricsServer(0, "/metrics", app.registry, app.checker, observability.NopLogger())

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Spec.Server.Address = "127.0.0.1"
	cfg.Spec.Server.Port = 0

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NoError(t, app.gateway.Start(context.Background()))

	app.metricsServer = createMetricsServer(0, defaultMetricsPath, app.registry, app.checker, observability.NopLogger())
	app.metricsServer.Addr = "127.0.0.1:0"
	go runMetricsServer(app.metricsServer, observability.NopLogger())

	shutdown(app, observability.NopLogger())
	assert.False(t, app.gateway.IsRunning())
}
