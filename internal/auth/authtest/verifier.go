// Package authtest provides test doubles for the auth collaborator
// interfaces.
package authtest

import (
	"context"
	"crypto/x509"

	"github.com/stretchr/testify/mock"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
)

// MockVerifier is a testify mock implementing auth.Verifier.
type MockVerifier struct {
	mock.Mock
}

var _ auth.Verifier = (*MockVerifier)(nil)

// VerifyBasic implements auth.BasicVerifier.
func (m *MockVerifier) VerifyBasic(ctx context.Context, username, password string) (*auth.Principal, error) {
	args := m.Called(ctx, username, password)
	return principal(args.Get(0)), args.Error(1)
}

// VerifyToken implements auth.TokenVerifier.
func (m *MockVerifier) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	args := m.Called(ctx, token)
	return principal(args.Get(0)), args.Error(1)
}

// VerifyX509 implements auth.X509Verifier.
func (m *MockVerifier) VerifyX509(ctx context.Context, chain []*x509.Certificate) (*auth.Principal, error) {
	args := m.Called(ctx, chain)
	return principal(args.Get(0)), args.Error(1)
}

// VerifyOIDC implements auth.OIDCVerifier.
func (m *MockVerifier) VerifyOIDC(ctx context.Context, token string) (*auth.Principal, error) {
	args := m.Called(ctx, token)
	return principal(args.Get(0)), args.Error(1)
}

// InvalidateToken implements auth.TokenInvalidator.
func (m *MockVerifier) InvalidateToken(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func principal(v interface{}) *auth.Principal {
	if p, ok := v.(*auth.Principal); ok {
		return p
	}
	return nil
}
