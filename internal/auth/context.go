package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/vyrodovalexey/apimlgw/internal/certificate"
)

// SecurityContext holds the authentication result of one request. It can
// be set once.
type SecurityContext struct {
	mu     sync.RWMutex
	result *Result
}

// Result returns the stored result or nil.
func (s *SecurityContext) Result() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// IsAuthenticated reports whether an authenticated principal is present.
func (s *SecurityContext) IsAuthenticated() bool {
	r := s.Result()
	return r != nil && r.Authenticated && r.Principal != nil
}

// Set stores r. It fails with ErrContextSealed if a result is present.
func (s *SecurityContext) Set(r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return ErrContextSealed
	}
	s.result = r
	return nil
}

// RequestContext is threaded through the pipeline stages of one request.
type RequestContext struct {
	Request      *http.Request
	Certificates certificate.Categorized
	Security     *SecurityContext
}

// NewRequestContext creates a RequestContext for r with an empty security
// context.
func NewRequestContext(r *http.Request, certs certificate.Categorized) *RequestContext {
	return &RequestContext{
		Request:      r,
		Certificates: certs,
		Security:     &SecurityContext{},
	}
}

type resultContextKey struct{}

// ContextWithResult returns a copy of ctx carrying r.
func ContextWithResult(ctx context.Context, r *Result) context.Context {
	return context.WithValue(ctx, resultContextKey{}, r)
}

// ResultFromContext returns the result stored by ContextWithResult.
func ResultFromContext(ctx context.Context) (*Result, bool) {
	r, ok := ctx.Value(resultContextKey{}).(*Result)
	return r, ok && r != nil
}

type certificatesContextKey struct{}

// ContextWithCertificates returns a copy of ctx carrying c.
func ContextWithCertificates(ctx context.Context, c certificate.Categorized) context.Context {
	return context.WithValue(ctx, certificatesContextKey{}, c)
}

// CertificatesFromContext returns the categorization stored by
// ContextWithCertificates.
func CertificatesFromContext(ctx context.Context) (certificate.Categorized, bool) {
	c, ok := ctx.Value(certificatesContextKey{}).(certificate.Categorized)
	return c, ok
}

type challengeContextKey struct{}

// ContextWithChallenge returns a copy of ctx carrying the authentication
// scheme a 401 response should advertise.
func ContextWithChallenge(ctx context.Context, scheme string) context.Context {
	return context.WithValue(ctx, challengeContextKey{}, scheme)
}

// ChallengeFromContext returns the scheme stored by ContextWithChallenge.
func ChallengeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(challengeContextKey{}).(string)
	return s
}
