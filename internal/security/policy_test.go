package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/internal/config"
)

func requestContext(method, path string, res *auth.Result) *auth.RequestContext {
	rc := auth.NewRequestContext(httptest.NewRequest(method, path, nil), certificate.Categorized{})
	if res != nil {
		_ = rc.Security.Set(res)
	}
	return rc
}

func alice(groups ...string) *auth.Result {
	return auth.NewResult(
		&auth.Principal{UserID: "alice", Groups: groups, Claims: map[string]string{"tenant": "acme"}},
		auth.TokenCredential{Token: "t"},
	)
}

func TestBuiltinPolicies(t *testing.T) {
	t.Parallel()

	anon := requestContext(http.MethodGet, "/", nil)
	authed := requestContext(http.MethodGet, "/", alice())

	assert.NoError(t, PermitAll{}.Authorize(anon))
	assert.NoError(t, PermitAll{}.Authorize(authed))

	assert.ErrorIs(t, Authenticated{}.Authorize(anon), auth.ErrAuthenticationRequired)
	assert.NoError(t, Authenticated{}.Authorize(authed))

	assert.ErrorIs(t, DenyAll{}.Authorize(authed), auth.ErrAccessDenied)
}

func TestExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		method  string
		result  *auth.Result
		wantErr error
	}{
		{name: "group member", expr: `"admin" in principal.groups`, result: alice("admin")},
		{name: "not a group member", expr: `"admin" in principal.groups`, result: alice("dev"), wantErr: auth.ErrAccessDenied},
		{name: "anonymous is asked to authenticate", expr: `"admin" in principal.groups`, wantErr: auth.ErrAuthenticationRequired},
		{name: "method check", expr: `request.method == "GET"`, method: http.MethodGet},
		{name: "method check fails", expr: `request.method == "GET"`, method: http.MethodPost, result: alice(), wantErr: auth.ErrAccessDenied},
		{name: "claims and credential type", expr: `principal.claims["tenant"] == "acme" && principal.credentialType == "bearer"`, result: alice()},
		{name: "header", expr: `request.headers["X-Tenant"] == "acme"`, result: alice()},
		{name: "missing map key fails closed", expr: `principal.claims["missing"] == "x"`, result: alice(), wantErr: auth.ErrAccessDenied},
		{name: "path prefix", expr: `request.path.startsWith("/reports/")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, err := NewExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, e.Source())
			assert.Equal(t, config.PolicyExpression, e.Name())

			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			rc := requestContext(method, "/reports/q1", tt.result)
			rc.Request.Header.Set("X-Tenant", "acme")

			err = e.Authorize(rc)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestNewExpression_Errors(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"", "  ", "request.", `request.method + "x"`, "unknown_var == 1"} {
		_, err := NewExpression(src)
		assert.Error(t, err, src)
	}
}

func TestNewPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{config.PolicyPermitAll, config.PolicyPermitAll},
		{config.PolicyAuthenticated, config.PolicyAuthenticated},
		{"", config.PolicyAuthenticated},
		{config.PolicyDenyAll, config.PolicyDenyAll},
	}
	for _, tt := range tests {
		p, err := NewPolicy(tt.name, "")
		require.NoError(t, err)
		assert.Equal(t, tt.want, p.Name())
	}

	p, err := NewPolicy(config.PolicyExpression, "true")
	require.NoError(t, err)
	assert.Equal(t, config.PolicyExpression, p.Name())

	_, err = NewPolicy("sometimes", "")
	assert.Error(t, err)
}
