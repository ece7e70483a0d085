package authclient

import (
	"context"
	"crypto/x509"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
)

// Unavailable is the Verifier used when no authentication service is
// configured. Every call fails with KindServiceUnavailable.
type Unavailable struct{}

func (Unavailable) fail() error {
	return auth.NewError(auth.KindServiceUnavailable, "no authentication service configured")
}

// VerifyBasic implements auth.BasicVerifier.
func (u Unavailable) VerifyBasic(context.Context, string, string) (*auth.Principal, error) {
	return nil, u.fail()
}

// VerifyToken implements auth.TokenVerifier.
func (u Unavailable) VerifyToken(context.Context, string) (*auth.Principal, error) {
	return nil, u.fail()
}

// VerifyX509 implements auth.X509Verifier.
func (u Unavailable) VerifyX509(context.Context, []*x509.Certificate) (*auth.Principal, error) {
	return nil, u.fail()
}

// VerifyOIDC implements auth.OIDCVerifier.
func (u Unavailable) VerifyOIDC(context.Context, string) (*auth.Principal, error) {
	return nil, u.fail()
}

// InvalidateToken implements auth.TokenInvalidator.
func (u Unavailable) InvalidateToken(context.Context, string) error {
	return u.fail()
}

// WithBasic returns a Verifier that checks Basic credentials with basic
// and delegates everything else to next.
func WithBasic(next auth.Verifier, basic auth.BasicVerifier) auth.Verifier {
	if basic == nil {
		return next
	}
	return &basicOverride{Verifier: next, basic: basic}
}

type basicOverride struct {
	auth.Verifier
	basic auth.BasicVerifier
}

func (o *basicOverride) VerifyBasic(ctx context.Context, username, password string) (*auth.Principal, error) {
	return o.basic.VerifyBasic(ctx, username, password)
}

var (
	_ auth.Verifier = Unavailable{}
	_ auth.Verifier = (*basicOverride)(nil)
)
