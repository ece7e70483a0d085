// Package basic implements HTTP Basic and JSON body login credentials.
package basic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Name is the extractor name used in rules and metrics.
const Name = "basic"

const (
	scheme = "Basic"

	// DefaultMaxBodyBytes bounds the JSON login body that is inspected.
	DefaultMaxBodyBytes = 64 << 10
)

// LoginRequest is the JSON login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Extractor reads Basic credentials from the Authorization header, or
// from a JSON login body when the header is absent.
type Extractor struct {
	verifier     auth.BasicVerifier
	maxBodyBytes int64
	logger       observability.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithMaxBodyBytes bounds the inspected login body.
func WithMaxBodyBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBodyBytes = n
		}
	}
}

// NewExtractor creates a Basic extractor verifying with v.
func NewExtractor(v auth.BasicVerifier, opts ...Option) *Extractor {
	e := &Extractor{
		verifier:     v,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       observability.NopLogger(),
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
	cred, err := e.credential(rc.Request)
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.Username == "" || cred.Password == "" {
		return nil, nil
	}

	principal, err := e.verifier.VerifyBasic(ctx, cred.Username, cred.Password)
	if err != nil {
		e.logger.Debug("basic authentication failed",
			observability.String("username", cred.Username),
			observability.Error(err),
		)
		return nil, auth.FromVerifier(err, auth.KindBadCredentials, "invalid username or password")
	}
	if principal == nil {
		return nil, auth.NewError(auth.KindBadCredentials, "verifier returned no principal")
	}
	return auth.NewResult(principal, *cred), nil
}

func (e *Extractor) credential(r *http.Request) (*auth.BasicCredential, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		name, payload, _ := strings.Cut(strings.TrimSpace(header), " ")
		if !strings.EqualFold(name, scheme) {
			return nil, nil
		}
		return ParseHeader(payload)
	}
	return e.fromBody(r)
}

// ParseHeader decodes the base64 "user:password" part of a Basic header.
func ParseHeader(encoded string) (*auth.BasicCredential, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, auth.NewError(auth.KindCredentialsNotFound, "empty basic authorization header")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, auth.WrapError(auth.KindCredentialsNotFound, "malformed basic authorization header", err)
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, auth.NewError(auth.KindCredentialsNotFound, "malformed basic authorization header")
	}
	return &auth.BasicCredential{Username: username, Password: password}, nil
}

// fromBody reads a JSON login body and restores it for later handlers.
func (e *Extractor) fromBody(r *http.Request) (*auth.BasicCredential, error) {
	if r.Method != http.MethodPost || r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mediaType != "application/json" {
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, e.maxBodyBytes+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return nil, auth.WrapError(auth.KindCredentialsNotFound, "failed to read login body", err)
	}
	if int64(len(data)) > e.maxBodyBytes {
		return nil, auth.NewError(auth.KindCredentialsNotFound, "login body too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var login LoginRequest
	if err := json.Unmarshal(data, &login); err != nil {
		return nil, auth.WrapError(auth.KindCredentialsNotFound, "login object has wrong format", err)
	}
	return &auth.BasicCredential{Username: login.Username, Password: login.Password}, nil
}

var _ auth.Extractor = (*Extractor)(nil)
