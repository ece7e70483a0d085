package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
apiVersion: apiml.io/v1
kind: Gateway
metadata:
  name: gw-1
spec:
  topology: modulith
  server:
    port: 8443
    tls:
      certFile: /etc/gw/tls.crt
      keyFile: /etc/gw/tls.key
  certificates:
    forwardingEnabled: true
    trustedGatewayCertFiles: [/etc/gw/peers.pem]
  auth:
    serviceURL: ${AUTH_URL:-http://auth.local:8080}
    timeout: 2s
    cache:
      enabled: true
      address: localhost:6379
  rules:
    - name: admin
      order: 100
      paths: [/admin/**]
      extractors: [bearer]
      policy: expression
      expression: principal.userId == "admin"
`

func TestLoadConfigFromReader(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "gw-1", cfg.Metadata.Name)
	assert.Equal(t, TopologyModulith, cfg.Spec.Topology)
	assert.Equal(t, 8443, cfg.Spec.Server.Port)
	assert.Equal(t, ClientAuthRequest, cfg.Spec.Server.TLS.ClientAuth)
	assert.Equal(t, "http://auth.local:8080", cfg.Spec.Auth.ServiceURL)
	assert.Equal(t, 2*time.Second, cfg.Spec.Auth.Timeout.Duration())
	assert.Equal(t, DefaultForwardHeader, cfg.Spec.Certificates.ForwardHeader)
	assert.Equal(t, DefaultCookieName, cfg.Spec.Auth.CookieName)
	assert.Equal(t, DefaultCacheKeyPrefix, cfg.Spec.Auth.Cache.KeyPrefix)
	assert.Equal(t, DefaultCacheTTL, cfg.Spec.Auth.Cache.TTL.Duration())
	require.Len(t, cfg.Spec.Rules, 1)
	assert.Equal(t, PolicyExpression, cfg.Spec.Rules[0].Policy)

	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("spec:\n  bogus: true\n"))
	assert.Error(t, err)
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gw-1", cfg.Metadata.Name)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Sample(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join("..", "..", "configs", "gateway.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	require.NotNil(t, cfg.Spec.Audit)
	assert.True(t, cfg.Spec.Audit.Enabled)
	assert.Equal(t, []string{"/application/*"}, cfg.Spec.Audit.SkipPaths)
	require.Len(t, cfg.Spec.Rules, 1)
	assert.Equal(t, "admin", cfg.Spec.Rules[0].Name)
	assert.Equal(t, 30*time.Second, cfg.Spec.Auth.CircuitBreaker.Timeout.Duration())
	assert.True(t, cfg.Spec.Certificates.WatchTrustedGatewayCertFiles)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("APIMLGW_TEST_VALUE", "from-env")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "a: ${APIMLGW_TEST_VALUE}", want: "a: from-env"},
		{name: "default used", input: "a: ${APIMLGW_TEST_MISSING:-fallback}", want: "a: fallback"},
		{name: "missing without default", input: "a: ${APIMLGW_TEST_MISSING}", want: "a: "},
		{name: "escaped dollar", input: "a: $${APIMLGW_TEST_VALUE}", want: "a: ${APIMLGW_TEST_VALUE}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(substituteEnvVars([]byte(tt.input))))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	valid := func() *GatewayConfig {
		cfg := &GatewayConfig{Spec: GatewaySpec{
			Auth: AuthConfig{ServiceURL: "http://auth:8080"},
		}}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*GatewayConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*GatewayConfig) {}},
		{
			name:    "bad topology",
			mutate:  func(c *GatewayConfig) { c.Spec.Topology = "mesh" },
			wantErr: "spec.topology",
		},
		{
			name:    "no auth source",
			mutate:  func(c *GatewayConfig) { c.Spec.Auth.ServiceURL = "" },
			wantErr: "either serviceURL or localUsers",
		},
		{
			name: "forwarding without trusted certs",
			mutate: func(c *GatewayConfig) {
				c.Spec.Certificates.ForwardingEnabled = true
			},
			wantErr: "trustedGatewayCertFiles",
		},
		{
			name: "require client auth without CA",
			mutate: func(c *GatewayConfig) {
				c.Spec.Server.TLS = &TLSConfig{CertFile: "c", KeyFile: "k", ClientAuth: ClientAuthRequire}
			},
			wantErr: "clientCAFile",
		},
		{
			name: "rule order collides with built-in rules",
			mutate: func(c *GatewayConfig) {
				c.Spec.Rules = []RuleConfig{
					{Name: "a", Order: 10, Paths: []string{"/a"}, Policy: PolicyPermitAll},
				}
			},
			wantErr: "must be between 100 and 999",
		},
		{
			name: "duplicate rule order",
			mutate: func(c *GatewayConfig) {
				c.Spec.Rules = []RuleConfig{
					{Name: "a", Order: 100, Paths: []string{"/a"}, Policy: PolicyPermitAll},
					{Name: "b", Order: 100, Paths: []string{"/b"}, Policy: PolicyPermitAll},
				}
			},
			wantErr: "duplicates order",
		},
		{
			name: "unknown extractor",
			mutate: func(c *GatewayConfig) {
				c.Spec.Rules = []RuleConfig{
					{Name: "a", Order: 100, Paths: []string{"/a"}, Extractors: []string{"kerberos"}, Policy: PolicyPermitAll},
				}
			},
			wantErr: "unknown extractor",
		},
		{
			name: "expression policy without expression",
			mutate: func(c *GatewayConfig) {
				c.Spec.Rules = []RuleConfig{
					{Name: "a", Order: 100, Paths: []string{"/a"}, Policy: PolicyExpression},
				}
			},
			wantErr: "expression",
		},
		{
			name: "unknown rule method",
			mutate: func(c *GatewayConfig) {
				c.Spec.Rules = []RuleConfig{
					{Name: "a", Order: 100, Paths: []string{"/a"}, Methods: []string{"FETCH"}, Policy: PolicyPermitAll},
				}
			},
			wantErr: "invalid HTTP method",
		},
		{
			name:    "bad forward header",
			mutate:  func(c *GatewayConfig) { c.Spec.Certificates.ForwardHeader = "Client Cert" },
			wantErr: "spec.certificates.forwardHeader",
		},
		{
			name: "negative cache connect retries",
			mutate: func(c *GatewayConfig) {
				c.Spec.Auth.Cache = &CacheConfig{Enabled: true, Address: "redis:6379", ConnectRetries: -1}
			},
			wantErr: "spec.auth.cache.connectRetries",
		},
		{
			name:    "unknown audit format",
			mutate:  func(c *GatewayConfig) { c.Spec.Audit = &AuditConfig{Enabled: true, Format: "xml"} },
			wantErr: "spec.audit.format",
		},
		{
			name:   "disabled audit is not checked",
			mutate: func(c *GatewayConfig) { c.Spec.Audit = &AuditConfig{Format: "xml"} },
		},
		{
			name:    "invalid upstream",
			mutate:  func(c *GatewayConfig) { c.Spec.Upstream.URL = "not a url" },
			wantErr: "spec.upstream.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidateConfig(nil))
}
