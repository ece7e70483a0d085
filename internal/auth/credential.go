package auth

import (
	"crypto/x509"
	"time"
)

// CredentialType identifies the form of a credential.
type CredentialType string

// Credential types.
const (
	CredentialBasic  CredentialType = "basic"
	CredentialBearer CredentialType = "bearer"
	CredentialCookie CredentialType = "cookie"
	CredentialX509   CredentialType = "x509"
	CredentialOIDC   CredentialType = "oidc"
)

// Credential is the sealed union of credential forms.
type Credential interface {
	Type() CredentialType
	sealed()
}

// BasicCredential is a username and password.
type BasicCredential struct {
	Username string
	Password string
}

// Type implements Credential.
func (BasicCredential) Type() CredentialType { return CredentialBasic }
func (BasicCredential) sealed()              {}

// TokenCredential is a JWT taken from the Authorization header or a cookie.
type TokenCredential struct {
	Token string

	// FromCookie is set when the token came from the auth cookie.
	FromCookie bool
}

// Type implements Credential.
func (c TokenCredential) Type() CredentialType {
	if c.FromCookie {
		return CredentialCookie
	}
	return CredentialBearer
}
func (TokenCredential) sealed() {}

// X509Credential is a client certificate chain, leaf first.
type X509Credential struct {
	Chain []*x509.Certificate
}

// Type implements Credential.
func (X509Credential) Type() CredentialType { return CredentialX509 }
func (X509Credential) sealed()              {}

// Leaf returns the client certificate or nil.
func (c X509Credential) Leaf() *x509.Certificate {
	if len(c.Chain) == 0 {
		return nil
	}
	return c.Chain[0]
}

// OIDCCredential is an OIDC token from the OIDC header.
type OIDCCredential struct {
	Token string
}

// Type implements Credential.
func (OIDCCredential) Type() CredentialType { return CredentialOIDC }
func (OIDCCredential) sealed()              {}

// Principal is the identity returned by a Verifier.
type Principal struct {
	UserID string `json:"userId"`

	// Token is the gateway token issued for the principal, when the
	// authentication service issued one.
	Token string `json:"token,omitempty"`

	ExpiresAt time.Time         `json:"expiresAt,omitempty"`
	Groups    []string          `json:"groups,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
}

// Result is the outcome of one committed authentication.
type Result struct {
	Principal     *Principal
	Credential    Credential
	Authenticated bool
}

// NewResult creates an authenticated Result.
func NewResult(p *Principal, c Credential) *Result {
	return &Result{Principal: p, Credential: c, Authenticated: true}
}

// CredentialType returns the type of the credential that produced r.
func (r *Result) CredentialType() CredentialType {
	if r == nil || r.Credential == nil {
		return ""
	}
	return r.Credential.Type()
}

// UserID returns the principal's user id or "".
func (r *Result) UserID() string {
	if r == nil || r.Principal == nil {
		return ""
	}
	return r.Principal.UserID
}
