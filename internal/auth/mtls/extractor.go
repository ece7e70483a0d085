// Package mtls implements X.509 client certificate authentication.
//
// Only certificates the categorizer placed in the client authentication
// set are considered. Certificates proving an internal gateway hop are
// never used as a login credential.
package mtls

import (
	"context"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Name is the extractor name used in rules and metrics.
const Name = "x509"

// Extractor authenticates with the categorized client certificates.
//
// Verification failures decline instead of failing the request so that a
// later extractor on the same rule can still authenticate the caller.
type Extractor struct {
	verifier auth.X509Verifier
	logger   observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates an X.509 extractor verifying with v.
func NewExtractor(v auth.X509Verifier, opts ...Option) *Extractor {
	e := &Extractor{
		verifier: v,
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

// Extract implements auth.Extractor. An already authenticated security
// context is returned unchanged without calling the verifier.
func (e *Extractor) Extract(ctx context.Context, rc *auth.RequestContext) (*auth.Result, error) {
	if rc.Security.IsAuthenticated() {
		return rc.Security.Result(), nil
	}

	chain := rc.Certificates.ClientAuth
	if len(chain) == 0 {
		return nil, nil
	}

	principal, err := e.verifier.VerifyX509(ctx, chain)
	if err != nil || principal == nil {
		e.logger.Debug("client certificate not accepted",
			observability.String("subject", chain[0].Subject.String()),
			observability.Error(err),
		)
		return nil, nil
	}
	return auth.NewResult(principal, auth.X509Credential{Chain: chain}), nil
}

var _ auth.Extractor = (*Extractor)(nil)
