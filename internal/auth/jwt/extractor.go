// Package jwt implements the Bearer header and cookie token extractor.
//
// Tokens are verified by the authentication service; this package only
// locates them. A present token always commits: it either authenticates or
// fails the request, even on routes that tolerate anonymous callers.
package jwt

import (
	"context"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Name is the extractor name used in rules and metrics.
const Name = "bearer"

const bearerPrefix = "Bearer "

// DefaultCookieName is the cookie carrying the gateway token.
const DefaultCookieName = "apimlAuthenticationToken"

// Extractor reads a token from "Authorization: Bearer" or, failing that,
// from the auth cookie.
type Extractor struct {
	verifier   auth.TokenVerifier
	cookieName string
	logger     observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCookieName sets the auth cookie name.
func WithCookieName(name string) Option {
	return func(e *Extractor) {
		if name != "" {
			e.cookieName = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// NewExtractor creates a token extractor verifying with v.
func NewExtractor(v auth.TokenVerifier, opts ...Option) *Extractor {
	e := &Extractor{
		verifier:   v,
		cookieName: DefaultCookieName,
		logger:     observability.NopLogger(),
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
	cred, ok := e.Credential(rc.Request)
	if !ok {
		return nil, nil
	}

	principal, err := e.verifier.VerifyToken(ctx, cred.Token)
	if err != nil {
		e.logger.Debug("token authentication failed",
			observability.String("source", string(cred.Type())),
			observability.Error(err),
		)
		return nil, auth.FromVerifier(err, auth.KindTokenNotValid, "token is not valid")
	}
	if principal == nil {
		return nil, auth.NewError(auth.KindTokenNotValid, "verifier returned no principal")
	}
	if principal.Token == "" {
		principal.Token = cred.Token
	}
	return auth.NewResult(principal, cred), nil
}

// Credential locates the token on r.
func (e *Extractor) Credential(r *http.Request) (auth.TokenCredential, bool) {
	if token, ok := BearerToken(r); ok {
		return auth.TokenCredential{Token: token}, true
	}
	if c, err := r.Cookie(e.cookieName); err == nil && c.Value != "" {
		return auth.TokenCredential{Token: c.Value, FromCookie: true}, true
	}
	return auth.TokenCredential{}, false
}

// BearerToken returns the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}

var _ auth.Extractor = (*Extractor)(nil)
