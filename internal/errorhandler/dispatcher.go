// Package errorhandler converts authentication pipeline failures into
// HTTP responses with a stable message key.
package errorhandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/security"
)

// ErrUnhandled wraps failures the dispatcher leaves to the caller.
var ErrUnhandled = errors.New("error not handled by dispatcher")

// DefaultRealm is advertised in WWW-Authenticate challenges.
const DefaultRealm = "apimlgw"

// Response is a resolved error response.
type Response struct {
	Status  int
	Key     string
	Headers http.Header
}

// Predicate selects the errors an entry handles.
type Predicate func(err error) bool

// Handler builds the response for an error.
type Handler func(err error, r *http.Request) Response

type entry struct {
	name   string
	match  Predicate
	handle Handler
}

// Dispatcher resolves errors against an ordered table of (predicate,
// handler) pairs, most specific kinds first. It is immutable after
// construction.
type Dispatcher struct {
	entries    []entry
	standalone bool
	realm      string
	logger     observability.Logger
	metrics    *Metrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithRealm sets the challenge realm.
func WithRealm(realm string) Option {
	return func(d *Dispatcher) {
		if realm != "" {
			d.realm = realm
		}
	}
}

// New creates the dispatcher for mode. In the standalone topology an
// error without a classified kind is left unhandled so the legacy
// fallback can answer it; the consolidated topology maps it to a 500.
func New(mode security.TopologyMode, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		standalone: mode.Standalone(),
		realm:      DefaultRealm,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.entries = []entry{
		d.kind(auth.KindTokenExpired, http.StatusUnauthorized, KeyExpiredToken),
		d.kind(auth.KindTokenFormatInvalid, http.StatusUnauthorized, KeyTokenFormatNotValid),
		d.kind(auth.KindTokenNotValid, http.StatusUnauthorized, KeyInvalidToken),
		d.kind(auth.KindCredentialsNotFound, http.StatusBadRequest, KeyInvalidInput),
		d.kind(auth.KindAuthenticationRequired, http.StatusUnauthorized, KeyAuthenticationRequired),
		d.kind(auth.KindBadCredentials, http.StatusUnauthorized, KeyInvalidUsername),
		d.kind(auth.KindInvalidCertificate, http.StatusForbidden, KeyInvalidCertificate),
		d.kind(auth.KindServiceUnavailable, http.StatusServiceUnavailable, KeyServiceUnavailable),
		d.kind(auth.KindAuthentication, http.StatusInternalServerError, KeyGenericAuthentication),
		d.kind(auth.KindAccessDenied, http.StatusForbidden, KeyForbidden),
		{
			name:   auth.KindMethodNotSupported.String(),
			match:  kindIs(auth.KindMethodNotSupported),
			handle: methodNotSupported,
		},
		d.kind(auth.KindNotFound, http.StatusNotFound, KeyNotFound),
		{
			// A classified error of no known kind.
			name:   "unknown",
			match:  isClassified,
			handle: static(http.StatusInternalServerError, KeyGenericAuthentication),
		},
	}
	if !d.standalone {
		d.entries = append(d.entries, entry{
			name:   "generic",
			match:  func(error) bool { return true },
			handle: static(http.StatusInternalServerError, KeyInternalError),
		})
	}

	return d
}

// Resolve returns the response for err. It reports false when err is
// left unhandled.
func (d *Dispatcher) Resolve(err error, r *http.Request) (Response, bool) {
	for _, e := range d.entries {
		if e.match(err) {
			return e.handle(err, r), true
		}
	}
	return Response{}, false
}

// Dispatch writes the response for err. Headers are set before the
// status line and body. An unhandled error is returned wrapped in
// ErrUnhandled and nothing is written.
func (d *Dispatcher) Dispatch(w http.ResponseWriter, r *http.Request, err error) error {
	if err == nil {
		return nil
	}

	resp, ok := d.Resolve(err, r)
	if !ok {
		d.logger.WithContext(r.Context()).Warn("error left to fallback handler",
			observability.String("path", r.URL.Path),
			observability.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrUnhandled, err)
	}

	body := NewBody(resp.Key, r)

	h := w.Header()
	for name, values := range resp.Headers {
		h[name] = values
	}
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(resp.Status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		d.logger.Debug("failed to write error response", observability.Error(encErr))
	}

	if d.metrics != nil {
		d.metrics.RecordError(resp.Status, resp.Key)
	}

	log := d.logger.WithContext(r.Context())
	fields := []observability.Field{
		observability.Int("status", resp.Status),
		observability.String("message_key", resp.Key),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Error(err),
	}
	if resp.Status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Debug("request rejected", fields...)
	}
	return nil
}

// kind builds an entry for k. 401 responses carry the challenge of the
// matched rule when it has one.
func (d *Dispatcher) kind(k auth.Kind, status int, key string) entry {
	handle := static(status, key)
	if status == http.StatusUnauthorized {
		handle = d.challenge(status, key)
	}
	return entry{name: k.String(), match: kindIs(k), handle: handle}
}

func (d *Dispatcher) challenge(status int, key string) Handler {
	return func(_ error, r *http.Request) Response {
		resp := Response{Status: status, Key: key}
		if scheme := auth.ChallengeFromContext(r.Context()); scheme != "" {
			resp.Headers = http.Header{}
			resp.Headers.Set("WWW-Authenticate", fmt.Sprintf("%s realm=%q", scheme, d.realm))
		}
		return resp
	}
}

func static(status int, key string) Handler {
	return func(error, *http.Request) Response {
		return Response{Status: status, Key: key}
	}
}

func methodNotSupported(err error, _ *http.Request) Response {
	resp := Response{Status: http.StatusMethodNotAllowed, Key: KeyMethodNotSupported}
	if e, ok := auth.AsError(err); ok && len(e.Allowed) > 0 {
		resp.Headers = http.Header{}
		resp.Headers.Set("Allow", strings.Join(e.Allowed, ", "))
	}
	return resp
}

func kindIs(k auth.Kind) Predicate {
	return func(err error) bool {
		return auth.KindOf(err).IsA(k)
	}
}

func isClassified(err error) bool {
	_, ok := auth.AsError(err)
	return ok
}

var _ security.ErrorDispatcher = (*Dispatcher)(nil)
