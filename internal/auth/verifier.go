package auth

import (
	"context"
	"crypto/x509"
)

// BasicVerifier checks a username and password.
type BasicVerifier interface {
	VerifyBasic(ctx context.Context, username, password string) (*Principal, error)
}

// TokenVerifier checks a gateway token regardless of whether it came from
// the Authorization header or the cookie.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Principal, error)
}

// X509Verifier checks a client certificate chain.
type X509Verifier interface {
	VerifyX509(ctx context.Context, chain []*x509.Certificate) (*Principal, error)
}

// OIDCVerifier checks an OIDC token.
type OIDCVerifier interface {
	VerifyOIDC(ctx context.Context, token string) (*Principal, error)
}

// TokenInvalidator revokes a gateway token on logout.
type TokenInvalidator interface {
	InvalidateToken(ctx context.Context, token string) error
}

// Verifier is the full authentication service contract.
type Verifier interface {
	BasicVerifier
	TokenVerifier
	X509Verifier
	OIDCVerifier
	TokenInvalidator
}

// Extractor finds one credential form on a request and verifies it.
//
// See the package documentation for the meaning of its return values.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, rc *RequestContext) (*Result, error)
}
