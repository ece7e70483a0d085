package config

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/apimlgw/internal/util"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	if cfg == nil {
		return ValidationErrors{{Message: "configuration is nil"}}
	}

	v := &validator{}
	v.validateSpec(&cfg.Spec)
	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) addError(path, format string, args ...interface{}) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validateSpec(s *GatewaySpec) {
	switch s.Topology {
	case TopologyMicroservice, TopologyModulith:
	default:
		v.addError("spec.topology", "must be %q or %q, got %q", TopologyMicroservice, TopologyModulith, s.Topology)
	}

	if err := util.ValidatePort(s.Server.Port); err != nil {
		v.addError("spec.server.port", "%v", err)
	}
	if tls := s.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			v.addError("spec.server.tls", "certFile and keyFile are required")
		}
		switch tls.ClientAuth {
		case ClientAuthNone, ClientAuthRequest, ClientAuthVerifyIfGiven, ClientAuthRequire:
		default:
			v.addError("spec.server.tls.clientAuth", "unknown mode %q", tls.ClientAuth)
		}
		if (tls.ClientAuth == ClientAuthVerifyIfGiven || tls.ClientAuth == ClientAuthRequire) && tls.ClientCAFile == "" {
			v.addError("spec.server.tls.clientCAFile", "required when clientAuth is %q", tls.ClientAuth)
		}
	}

	if s.Certificates.ForwardingEnabled && len(s.Certificates.TrustedGatewayCertFiles) == 0 {
		v.addError("spec.certificates.trustedGatewayCertFiles",
			"at least one trusted gateway certificate is required when forwarding is enabled")
	}

	if err := util.ValidateHeaderName(s.Certificates.ForwardHeader); err != nil {
		v.addError("spec.certificates.forwardHeader", "%v", err)
	}

	v.validateAuth(&s.Auth)
	v.validateRules(s.Rules)

	if s.Upstream.URL != "" {
		v.validateURL("spec.upstream.url", s.Upstream.URL)
	}

	if a := s.Audit; a != nil && a.Enabled {
		switch a.Format {
		case "", "json", "text":
		default:
			v.addError("spec.audit.format", "must be \"json\" or \"text\", got %q", a.Format)
		}
	}
}

func (v *validator) validateAuth(a *AuthConfig) {
	if a.ServiceURL != "" {
		v.validateURL("spec.auth.serviceURL", a.ServiceURL)
	}
	if err := util.ValidateHeaderName(a.OIDCHeader); err != nil {
		v.addError("spec.auth.oidcHeader", "%v", err)
	}
	if a.ServiceURL == "" && len(a.LocalUsers) == 0 {
		v.addError("spec.auth", "either serviceURL or localUsers must be configured")
	}
	if cb := a.CircuitBreaker; cb != nil && cb.Enabled && cb.Threshold <= 0 {
		v.addError("spec.auth.circuitBreaker.threshold", "must be positive")
	}
	if c := a.Cache; c != nil && c.Enabled {
		if c.Address == "" {
			v.addError("spec.auth.cache.address", "required when cache is enabled")
		}
		if c.ConnectRetries < 0 {
			v.addError("spec.auth.cache.connectRetries", "must not be negative")
		}
	}
	for i, u := range a.LocalUsers {
		if u.Username == "" || u.PasswordHash == "" {
			v.addError(fmt.Sprintf("spec.auth.localUsers[%d]", i), "username and passwordHash are required")
		}
	}
	if l := a.Login; l != nil && l.RequestsPerSecond < 0 {
		v.addError("spec.auth.login.requestsPerSecond", "must not be negative")
	}
}

func (v *validator) validateRules(rules []RuleConfig) {
	orders := make(map[int]string, len(rules))
	for i := range rules {
		r := &rules[i]
		path := fmt.Sprintf("spec.rules[%d]", i)
		if r.Name == "" {
			v.addError(path+".name", "is required")
		}
		if r.Order < MinRuleOrder || r.Order > MaxRuleOrder {
			v.addError(path+".order", "must be between %d and %d", MinRuleOrder, MaxRuleOrder)
		}
		if other, dup := orders[r.Order]; dup {
			v.addError(path+".order", "duplicates order of rule %q", other)
		}
		orders[r.Order] = r.Name
		if len(r.Paths) == 0 {
			v.addError(path+".paths", "at least one path is required")
		}
		for _, p := range r.Paths {
			if !strings.HasPrefix(p, "/") {
				v.addError(path+".paths", "path %q must start with /", p)
			}
		}
		for _, m := range r.Methods {
			if err := util.ValidateHTTPMethod(m); err != nil {
				v.addError(path+".methods", "%v", err)
			}
		}
		for _, e := range r.Extractors {
			switch e {
			case ExtractorBasic, ExtractorBearer, ExtractorX509, ExtractorOIDC:
			default:
				v.addError(path+".extractors", "unknown extractor %q", e)
			}
		}
		switch r.Policy {
		case PolicyPermitAll, PolicyAuthenticated, PolicyDenyAll:
		case PolicyExpression:
			if r.Expression == "" {
				v.addError(path+".expression", "required for policy %q", PolicyExpression)
			}
		default:
			v.addError(path+".policy", "unknown policy %q", r.Policy)
		}
	}
}

func (v *validator) validateURL(path, raw string) {
	if err := util.ValidateURL(raw); err != nil {
		v.addError(path, "%v", err)
	}
}
