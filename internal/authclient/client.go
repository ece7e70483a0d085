// Package authclient talks to the external authentication service that
// verifies credentials and issues gateway tokens.
package authclient

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Operation names used in paths, metrics and spans.
const (
	OpBasic      = "basic"
	OpToken      = "token"
	OpX509       = "x509"
	OpOIDC       = "oidc"
	OpInvalidate = "invalidate"
)

// Failure reasons the service reports with a 401.
const (
	ReasonExpired        = "expired"
	ReasonInvalid        = "invalid"
	ReasonFormat         = "format"
	ReasonBadCredentials = "bad_credentials"
)

// DefaultTimeout bounds one service call.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes limits how much of a service answer is read.
const maxResponseBytes = 1 << 20

type basicRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type x509Request struct {
	// Certificates are base64 DER, leaf first.
	Certificates []string `json:"certificates"`
}

type errorResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Client is an HTTP client for the authentication service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     observability.Logger
	metrics    *Metrics
	tracer     trace.Tracer

	cbEnabled   bool
	cbThreshold int
	cbTimeout   time.Duration
	breaker     *breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithCircuitBreaker guards calls with a breaker that opens after
// threshold consecutive failures and probes again after timeout.
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(cl *Client) {
		cl.cbEnabled = true
		cl.cbThreshold = threshold
		cl.cbTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// WithTracer sets the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(cl *Client) {
		if t != nil {
			cl.tracer = t
		}
	}
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("authentication service URL is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer("apimlgw/authclient"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cbEnabled {
		c.breaker = newBreaker("authentication-service", c.cbThreshold, c.cbTimeout, c.logger, c.metrics)
	}

	return c, nil
}

// VerifyBasic implements auth.BasicVerifier.
func (c *Client) VerifyBasic(ctx context.Context, username, password string) (*auth.Principal, error) {
	return c.verify(ctx, OpBasic, basicRequest{Username: username, Password: password})
}

// VerifyToken implements auth.TokenVerifier.
func (c *Client) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	return c.verify(ctx, OpToken, tokenRequest{Token: token})
}

// VerifyX509 implements auth.X509Verifier.
func (c *Client) VerifyX509(ctx context.Context, chain []*x509.Certificate) (*auth.Principal, error) {
	req := x509Request{Certificates: make([]string, 0, len(chain))}
	for _, cert := range chain {
		req.Certificates = append(req.Certificates, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	return c.verify(ctx, OpX509, req)
}

// VerifyOIDC implements auth.OIDCVerifier.
func (c *Client) VerifyOIDC(ctx context.Context, token string) (*auth.Principal, error) {
	return c.verify(ctx, OpOIDC, tokenRequest{Token: token})
}

// InvalidateToken implements auth.TokenInvalidator.
func (c *Client) InvalidateToken(ctx context.Context, token string) error {
	_, err := c.call(ctx, OpInvalidate, "/invalidate", tokenRequest{Token: token})
	return err
}

// State returns the breaker state name, "disabled" without a breaker.
func (c *Client) State() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.state().String()
}

func (c *Client) verify(ctx context.Context, op string, body interface{}) (*auth.Principal, error) {
	data, err := c.call(ctx, op, "/verify/"+op, body)
	if err != nil {
		return nil, err
	}

	var p auth.Principal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, auth.WrapError(auth.KindServiceUnavailable, "malformed authentication service response", err)
	}
	if p.UserID == "" {
		return nil, auth.NewError(auth.KindServiceUnavailable, "authentication service returned no user id")
	}
	return &p, nil
}

// outcome carries a non-5xx answer through the breaker so that client
// errors do not count as service failures.
type outcome struct {
	status int
	body   []byte
}

func (c *Client) call(ctx context.Context, op, path string, body interface{}) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "authclient."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("authclient.operation", op),
			attribute.String("http.request.method", http.MethodPost),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := c.breaker.execute(func() (interface{}, error) {
		return c.do(ctx, path, body)
	})
	duration := time.Since(start)

	var out *outcome
	if res != nil {
		out, _ = res.(*outcome)
	}

	status := statusLabel(out, err)
	if c.metrics != nil {
		c.metrics.RecordRequest(op, status, duration)
	}
	if out != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", out.status))
	}

	classified := c.classify(op, out, err)
	if classified != nil {
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Error())
		c.logger.WithContext(ctx).Debug("authentication service call failed",
			observability.String("operation", op),
			observability.String("status", status),
			observability.Duration("duration", duration),
			observability.Error(classified),
		)
		return nil, classified
	}

	span.SetStatus(codes.Ok, "")
	return out.body, nil
}

func (c *Client) do(ctx context.Context, path string, body interface{}) (*outcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := observability.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &outcome{status: resp.StatusCode, body: data}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("%w: status %d", errServerStatus, resp.StatusCode)
	}
	return out, nil
}

func (c *Client) classify(op string, out *outcome, err error) error {
	switch {
	case err == nil && out != nil:
	case errors.Is(err, context.Canceled):
		return err
	case isBreakerRejection(err):
		return auth.WrapError(auth.KindServiceUnavailable, "authentication service circuit breaker is open", err)
	case errors.Is(err, context.DeadlineExceeded):
		return auth.WrapError(auth.KindServiceUnavailable, "authentication service timed out", err)
	default:
		return auth.WrapError(auth.KindServiceUnavailable, "authentication service unavailable", err)
	}

	switch {
	case out.status >= 200 && out.status < 300:
		return nil
	case out.status == http.StatusUnauthorized:
		return unauthorized(op, decodeError(out.body))
	case out.status == http.StatusBadRequest:
		return auth.NewError(auth.KindCredentialsNotFound, messageOr(decodeError(out.body), "credentials not accepted by authentication service"))
	case out.status == http.StatusForbidden:
		return auth.NewError(auth.KindInvalidCertificate, messageOr(decodeError(out.body), "certificate not accepted by authentication service"))
	default:
		return auth.NewError(auth.KindServiceUnavailable,
			"unexpected authentication service status "+strconv.Itoa(out.status))
	}
}

func unauthorized(op string, e errorResponse) error {
	switch e.Reason {
	case ReasonExpired:
		return auth.NewError(auth.KindTokenExpired, messageOr(e, "token expired"))
	case ReasonFormat:
		return auth.NewError(auth.KindTokenFormatInvalid, messageOr(e, "token format invalid"))
	case ReasonInvalid:
		return auth.NewError(auth.KindTokenNotValid, messageOr(e, "token not valid"))
	case ReasonBadCredentials:
		return auth.NewError(auth.KindBadCredentials, messageOr(e, "invalid username or password"))
	}

	switch op {
	case OpBasic:
		return auth.NewError(auth.KindBadCredentials, messageOr(e, "invalid username or password"))
	case OpX509:
		return auth.NewError(auth.KindInvalidCertificate, messageOr(e, "certificate not accepted"))
	default:
		return auth.NewError(auth.KindTokenNotValid, messageOr(e, "token not valid"))
	}
}

func decodeError(body []byte) errorResponse {
	var e errorResponse
	_ = json.Unmarshal(body, &e)
	return e
}

func messageOr(e errorResponse, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}

func statusLabel(out *outcome, err error) string {
	switch {
	case out != nil:
		return strconv.Itoa(out.status)
	case isBreakerRejection(err):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

var _ auth.Verifier = (*Client)(nil)
