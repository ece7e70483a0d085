package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/certificate"
)

func TestKind_IsA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind     Kind
		ancestor Kind
		want     bool
	}{
		{KindTokenExpired, KindTokenExpired, true},
		{KindTokenExpired, KindTokenNotValid, true},
		{KindTokenExpired, KindAuthentication, true},
		{KindTokenFormatInvalid, KindTokenNotValid, true},
		{KindBadCredentials, KindTokenNotValid, false},
		{KindServiceUnavailable, KindAuthentication, true},
		{KindAccessDenied, KindAuthentication, false},
		{KindMethodNotSupported, KindAuthentication, false},
		{KindNotFound, KindNotFound, true},
		{KindAuthentication, KindTokenNotValid, false},
		{KindUnknown, KindAuthentication, false},
		{KindUnknown, KindUnknown, true},
		{KindTokenExpired, KindUnknown, false},
		{KindAuthentication, KindUnknown, false},
		{KindAccessDenied, KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_is_%s", tt.kind, tt.ancestor), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.kind.IsA(tt.ancestor))
		})
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "token_expired", KindTokenExpired.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
	assert.Equal(t, KindUnknown, Kind(99).Parent())
}

func TestError_IsFollowsHierarchy(t *testing.T) {
	t.Parallel()

	cause := errors.New("upstream said no")
	err := fmt.Errorf("bearer: %w", WrapError(KindTokenExpired, "token expired", cause))

	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, ErrTokenNotValid)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrBadCredentials)
	assert.NotErrorIs(t, err, ErrAccessDenied)
	assert.NotErrorIs(t, err, &Error{})
	assert.Contains(t, err.Error(), "auth error (token_expired): token expired: upstream said no")

	assert.Equal(t, KindTokenExpired, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestNewMethodNotSupported(t *testing.T) {
	t.Parallel()

	err := NewMethodNotSupported("PUT", []string{"GET", "POST"})
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindMethodNotSupported, e.Kind)
	assert.Equal(t, []string{"GET", "POST"}, e.Allowed)
	assert.Contains(t, e.Error(), "method PUT is not supported")
}

func TestCredentialTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cred Credential
		want CredentialType
	}{
		{BasicCredential{Username: "u"}, CredentialBasic},
		{TokenCredential{Token: "t"}, CredentialBearer},
		{TokenCredential{Token: "t", FromCookie: true}, CredentialCookie},
		{X509Credential{}, CredentialX509},
		{OIDCCredential{Token: "t"}, CredentialOIDC},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cred.Type())
	}

	assert.Nil(t, X509Credential{}.Leaf())

	var nilResult *Result
	assert.Equal(t, CredentialType(""), nilResult.CredentialType())
	assert.Equal(t, "", nilResult.UserID())

	r := NewResult(&Principal{UserID: "user"}, BasicCredential{Username: "user"})
	assert.True(t, r.Authenticated)
	assert.Equal(t, "user", r.UserID())
	assert.Equal(t, CredentialBasic, r.CredentialType())
}

func TestSecurityContext_SetOnce(t *testing.T) {
	t.Parallel()

	sc := &SecurityContext{}
	assert.False(t, sc.IsAuthenticated())
	assert.Nil(t, sc.Result())

	first := NewResult(&Principal{UserID: "a"}, BasicCredential{})
	second := NewResult(&Principal{UserID: "b"}, BasicCredential{})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, r := range []*Result{first, second} {
		wg.Add(1)
		go func(r *Result) {
			defer wg.Done()
			errs <- sc.Set(r)
		}(r)
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrContextSealed)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.True(t, sc.IsAuthenticated())
}

func TestSecurityContext_UnauthenticatedResult(t *testing.T) {
	t.Parallel()

	sc := &SecurityContext{}
	require.NoError(t, sc.Set(&Result{Principal: &Principal{UserID: "a"}}))
	assert.False(t, sc.IsAuthenticated())
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := ResultFromContext(ctx)
	assert.False(t, ok)
	_, ok = CertificatesFromContext(ctx)
	assert.False(t, ok)

	r := NewResult(&Principal{UserID: "u"}, OIDCCredential{})
	ctx = ContextWithResult(ctx, r)
	got, ok := ResultFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, r, got)

	certs := certificate.Categorized{Branch: certificate.BranchDirect}
	ctx = ContextWithCertificates(ctx, certs)
	gotCerts, ok := CertificatesFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, certificate.BranchDirect, gotCerts.Branch)

	rc := NewRequestContext(httptest.NewRequest("GET", "/", nil), certs)
	assert.NotNil(t, rc.Security)
	assert.Equal(t, "/", rc.Request.URL.Path)
}

func TestFromVerifier(t *testing.T) {
	t.Parallel()

	classified := NewError(KindBadCredentials, "nope")
	plain := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		wantKind Kind
		wantSame bool
	}{
		{name: "classified passes through", err: classified, wantKind: KindBadCredentials, wantSame: true},
		{name: "cancellation passes through", err: context.Canceled, wantKind: KindUnknown, wantSame: true},
		{name: "deadline is unavailability", err: context.DeadlineExceeded, wantKind: KindServiceUnavailable},
		{name: "plain is wrapped", err: plain, wantKind: KindTokenNotValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := FromVerifier(tt.err, KindTokenNotValid, "verification failed")
			assert.Equal(t, tt.wantKind, KindOf(got))
			assert.ErrorIs(t, got, tt.err)
			if tt.wantSame {
				assert.Same(t, tt.err, got)
			}
		})
	}

	assert.NoError(t, FromVerifier(nil, KindTokenNotValid, ""))
}
