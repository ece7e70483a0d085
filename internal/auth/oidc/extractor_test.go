package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/auth/authtest"
	"github.com/vyrodovalexey/apimlgw/internal/certificate"
)

func TestExtractor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		header      string
		verifierErr error
		noPrincipal bool
		wantUser    string
	}{
		{name: "absent header declines"},
		{name: "blank header declines", header: "   "},
		{name: "valid token", header: "id-token", wantUser: "oidc-user"},
		{name: "invalid token declines", header: "id-token", verifierErr: auth.NewError(auth.KindTokenNotValid, "bad")},
		{name: "transport failure declines", header: "id-token", verifierErr: errors.New("dial tcp: refused")},
		{name: "missing principal declines", header: "id-token", noPrincipal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := &authtest.MockVerifier{}
			if tt.wantUser != "" {
				v.On("VerifyOIDC", mock.Anything, "id-token").Return(&auth.Principal{UserID: tt.wantUser}, nil)
			}
			if tt.verifierErr != nil || tt.noPrincipal {
				v.On("VerifyOIDC", mock.Anything, "id-token").Return(nil, tt.verifierErr)
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/service", nil)
			if tt.header != "" {
				req.Header.Set("X-OIDC", tt.header)
			}

			e := NewExtractor(v, WithHeader("X-OIDC"))
			res, err := e.Extract(context.Background(), auth.NewRequestContext(req, certificate.Categorized{}))

			require.NoError(t, err)
			if tt.wantUser == "" {
				assert.Nil(t, res)
			} else {
				require.NotNil(t, res)
				assert.Equal(t, tt.wantUser, res.UserID())
				assert.Equal(t, auth.CredentialOIDC, res.CredentialType())
			}
			v.AssertExpectations(t)
		})
	}
}

func TestExtractor_DefaultHeader(t *testing.T) {
	t.Parallel()

	v := &authtest.MockVerifier{}
	v.On("VerifyOIDC", mock.Anything, "tok").Return(&auth.Principal{UserID: "u"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultHeader, "tok")

	res, err := NewExtractor(v).Extract(context.Background(), auth.NewRequestContext(req, certificate.Categorized{}))
	require.NoError(t, err)
	assert.Equal(t, "u", res.UserID())
	assert.Equal(t, Name, NewExtractor(v).Name())
}
