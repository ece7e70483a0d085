// Package config provides the gateway configuration model, loading and validation.
package config

import (
	"time"
)

// Topology values accepted in spec.topology.
const (
	TopologyMicroservice = "microservice"
	TopologyModulith     = "modulith"
)

// Client authentication modes for the TLS listener.
const (
	ClientAuthNone          = "none"
	ClientAuthRequest       = "request"
	ClientAuthVerifyIfGiven = "verifyIfGiven"
	ClientAuthRequire       = "require"
)

// Authorization policies accepted on rules.
const (
	PolicyPermitAll     = "permitAll"
	PolicyAuthenticated = "authenticated"
	PolicyDenyAll       = "denyAll"
	PolicyExpression    = "expression"
)

// Extractor names accepted on rules.
const (
	ExtractorBasic  = "basic"
	ExtractorBearer = "bearer"
	ExtractorX509   = "x509"
	ExtractorOIDC   = "oidc"
)

// Operator rules are ordered between the gateway's own endpoints and the
// catch-all services rule.
const (
	MinRuleOrder = 100
	MaxRuleOrder = 999
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds the gateway settings.
type GatewaySpec struct {
	// Topology selects route prefixes and one error-handling edge case.
	// It is read once at startup.
	Topology      string               `yaml:"topology" json:"topology"`
	Server        ServerConfig         `yaml:"server" json:"server"`
	Certificates  CertificatesConfig   `yaml:"certificates" json:"certificates"`
	Auth          AuthConfig           `yaml:"auth" json:"auth"`
	Rules         []RuleConfig         `yaml:"rules,omitempty" json:"rules,omitempty"`
	Upstream      UpstreamConfig       `yaml:"upstream" json:"upstream"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty" json:"observability,omitempty"`
	Audit         *AuditConfig         `yaml:"audit,omitempty" json:"audit,omitempty"`
}

// ServerConfig configures the public listener.
type ServerConfig struct {
	Address         string     `yaml:"address,omitempty" json:"address,omitempty"`
	Port            int        `yaml:"port" json:"port"`
	ReadTimeout     Duration   `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration   `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	ShutdownTimeout Duration   `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
	MaxBodyBytes    int64      `yaml:"maxBodyBytes,omitempty" json:"maxBodyBytes,omitempty"`
	TLS             *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig configures server TLS and client certificate handling.
type TLSConfig struct {
	CertFile     string `yaml:"certFile" json:"certFile"`
	KeyFile      string `yaml:"keyFile" json:"keyFile"`
	ClientCAFile string `yaml:"clientCAFile,omitempty" json:"clientCAFile,omitempty"`
	ClientAuth   string `yaml:"clientAuth,omitempty" json:"clientAuth,omitempty"`
}

// CertificatesConfig configures certificate categorization.
type CertificatesConfig struct {
	// ForwardingEnabled allows a trusted upstream gateway to relay the
	// original client certificate in ForwardHeader.
	ForwardingEnabled bool   `yaml:"forwardingEnabled" json:"forwardingEnabled"`
	ForwardHeader     string `yaml:"forwardHeader,omitempty" json:"forwardHeader,omitempty"`

	// TrustedGatewayCertFiles are PEM files holding certificates of peer
	// gateway instances. Their public keys seed the trusted key set.
	TrustedGatewayCertFiles []string `yaml:"trustedGatewayCertFiles,omitempty" json:"trustedGatewayCertFiles,omitempty"`

	// WatchTrustedGatewayCertFiles adds the keys of rewritten
	// TrustedGatewayCertFiles without a restart.
	WatchTrustedGatewayCertFiles bool `yaml:"watchTrustedGatewayCertFiles,omitempty" json:"watchTrustedGatewayCertFiles,omitempty"`
}

// AuthConfig configures credential extraction and the external auth service.
type AuthConfig struct {
	ServiceURL     string                `yaml:"serviceURL,omitempty" json:"serviceURL,omitempty"`
	Timeout        Duration              `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	CookieName     string                `yaml:"cookieName,omitempty" json:"cookieName,omitempty"`
	OIDCHeader     string                `yaml:"oidcHeader,omitempty" json:"oidcHeader,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Cache          *CacheConfig          `yaml:"cache,omitempty" json:"cache,omitempty"`
	LocalUsers     []LocalUser           `yaml:"localUsers,omitempty" json:"localUsers,omitempty"`
	Login          *LoginConfig          `yaml:"login,omitempty" json:"login,omitempty"`
}

// CircuitBreakerConfig configures the breaker guarding the auth service.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Threshold int      `yaml:"threshold" json:"threshold"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// CacheConfig configures the Redis verification cache.
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Address   string   `yaml:"address" json:"address"`
	Password  string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int      `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string   `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	TTL       Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// ConnectRetries retries the startup connectivity check.
	ConnectRetries int      `yaml:"connectRetries,omitempty" json:"connectRetries,omitempty"`
	ConnectBackoff Duration `yaml:"connectBackoff,omitempty" json:"connectBackoff,omitempty"`
}

// LocalUser is a statically configured Basic user.
type LocalUser struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"passwordHash" json:"passwordHash"`
}

// LoginConfig throttles the login endpoint.
type LoginConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// RuleConfig is an operator-defined security chain rule.
type RuleConfig struct {
	Name       string   `yaml:"name" json:"name"`
	Order      int      `yaml:"order" json:"order"`
	Paths      []string `yaml:"paths" json:"paths"`
	Methods    []string `yaml:"methods,omitempty" json:"methods,omitempty"`
	Extractors []string `yaml:"extractors,omitempty" json:"extractors,omitempty"`
	Policy     string   `yaml:"policy" json:"policy"`
	Expression string   `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// UpstreamConfig points at the proxying stage.
type UpstreamConfig struct {
	URL string `yaml:"url" json:"url"`
}

// ObservabilityConfig groups logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// MetricsConfig configures the metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	// Format is json or text.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Events selects the audited event types. Omitted audits all.
	Events *AuditEventsConfig `yaml:"events,omitempty" json:"events,omitempty"`

	SkipPaths []string `yaml:"skipPaths,omitempty" json:"skipPaths,omitempty"`
}

// AuditEventsConfig configures which events to audit.
type AuditEventsConfig struct {
	Authentication bool `yaml:"authentication,omitempty" json:"authentication,omitempty"`
	Authorization  bool `yaml:"authorization,omitempty" json:"authorization,omitempty"`
	Security       bool `yaml:"security,omitempty" json:"security,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultPort            = 10010
	DefaultForwardHeader   = "Client-Cert"
	DefaultCookieName      = "apimlAuthenticationToken"
	DefaultOIDCHeader      = "OIDC-Token"
	DefaultAuthTimeout     = 5 * time.Second
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheKeyPrefix  = "apimlgw:auth:"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
)

// ApplyDefaults fills zero values with defaults.
func (c *GatewayConfig) ApplyDefaults() {
	s := &c.Spec
	if s.Topology == "" {
		s.Topology = TopologyMicroservice
	}
	if s.Server.Port == 0 {
		s.Server.Port = DefaultPort
	}
	if s.Server.ShutdownTimeout == 0 {
		s.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if s.Server.MaxBodyBytes == 0 {
		s.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.Server.TLS != nil && s.Server.TLS.ClientAuth == "" {
		s.Server.TLS.ClientAuth = ClientAuthRequest
	}
	if s.Certificates.ForwardHeader == "" {
		s.Certificates.ForwardHeader = DefaultForwardHeader
	}
	if s.Auth.Timeout == 0 {
		s.Auth.Timeout = Duration(DefaultAuthTimeout)
	}
	if s.Auth.CookieName == "" {
		s.Auth.CookieName = DefaultCookieName
	}
	if s.Auth.OIDCHeader == "" {
		s.Auth.OIDCHeader = DefaultOIDCHeader
	}
	if cache := s.Auth.Cache; cache != nil {
		if cache.TTL == 0 {
			cache.TTL = Duration(DefaultCacheTTL)
		}
		if cache.KeyPrefix == "" {
			cache.KeyPrefix = DefaultCacheKeyPrefix
		}
	}
}
