// Package oidc implements best-effort OIDC token authentication from a
// dedicated request header.
package oidc

import (
	"context"
	"strings"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Name is the extractor name used in rules and metrics.
const Name = "oidc"

// DefaultHeader carries the OIDC token.
const DefaultHeader = "OIDC-Token"

// Extractor authenticates with an OIDC token. Any verification failure
// declines; OIDC is never the only gate on a route.
type Extractor struct {
	verifier auth.OIDCVerifier
	header   string
	logger   observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithHeader sets the header carrying the token.
func WithHeader(name string) Option {
	return func(e *Extractor) {
		if name != "" {
			e.header = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an OIDC extractor verifying with v.
func NewExtractor(v auth.OIDCVerifier, opts ...Option) *Extractor {
	e := &Extractor{
		verifier: v,
		header:   DefaultHeader,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements auth.Extractor.
func (e *Extractor) Name() string {
	return Name
}

// Extract implements auth.Extractor.
func (e *Extractor) Extract(ctx context.Context, rc *auth.RequestContext) (*auth.Result, error) {
	token := strings.TrimSpace(rc.Request.Header.Get(e.header))
	if token == "" {
		return nil, nil
	}

	principal, err := e.verifier.VerifyOIDC(ctx, token)
	if err != nil || principal == nil {
		e.logger.Debug("OIDC token not accepted", observability.Error(err))
		return nil, nil
	}
	return auth.NewResult(principal, auth.OIDCCredential{Token: token}), nil
}

var _ auth.Extractor = (*Extractor)(nil)
