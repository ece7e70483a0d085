package security

import (
	"net/http"

	"github.com/vyrodovalexey/apimlgw/internal/audit"
	"github.com/vyrodovalexey/apimlgw/internal/auth"
)

// ErrorDispatcher turns a pipeline failure into a response. It returns
// a non-nil error when it leaves the failure unhandled.
type ErrorDispatcher interface {
	Dispatch(w http.ResponseWriter, r *http.Request, err error) error
}

// UnhandledFunc receives failures the dispatcher declined to handle.
type UnhandledFunc func(w http.ResponseWriter, r *http.Request, err error)

// MiddlewareOption configures the middleware.
type MiddlewareOption func(*middleware)

// WithUnhandled sets the fallback for failures the dispatcher leaves
// unhandled. The default writes a plain 500.
func WithUnhandled(fn UnhandledFunc) MiddlewareOption {
	return func(m *middleware) {
		if fn != nil {
			m.unhandled = fn
		}
	}
}

// WithAudit records committed authentications and denials.
func WithAudit(a audit.Logger) MiddlewareOption {
	return func(m *middleware) {
		if a != nil {
			m.audit = a
		}
	}
}

type middleware struct {
	pipeline   *Pipeline
	dispatcher ErrorDispatcher
	unhandled  UnhandledFunc
	audit      audit.Logger
}

// Middleware returns an HTTP middleware running p on every request. A
// request that proceeds reaches next with its result, certificates and
// challenge in the request context. Rejections go to d exactly once.
func Middleware(p *Pipeline, d ErrorDispatcher, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{
		pipeline:   p,
		dispatcher: d,
		unhandled:  plainInternalError,
		audit:      audit.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			out := m.pipeline.Process(r.Context(), r)

			ctx := auth.ContextWithCertificates(r.Context(), out.Context.Certificates)
			if out.Rule != nil && out.Rule.Challenge != "" {
				ctx = auth.ContextWithChallenge(ctx, out.Rule.Challenge)
			}
			if res := out.Context.Security.Result(); res != nil {
				ctx = auth.ContextWithResult(ctx, res)
			}
			r = r.WithContext(ctx)
			m.record(r, out)

			if out.State == StateProceed {
				next.ServeHTTP(w, r)
				return
			}
			if IsCanceled(out.Err) {
				return
			}
			if err := m.dispatcher.Dispatch(w, r, out.Err); err != nil {
				m.unhandled(w, r, err)
			}
		})
	}
}

// record emits the audit event for out. Anonymous pass-through, routing
// failures and cancellations are not audited.
func (m *middleware) record(r *http.Request, out *Outcome) {
	if IsCanceled(out.Err) {
		return
	}
	res := out.Context.Security.Result()
	rule := ""
	if out.Rule != nil {
		rule = out.Rule.Name
	}

	var event *audit.Event
	switch kind := auth.KindOf(out.Err); {
	case out.State == StateProceed:
		if res == nil || !res.Authenticated {
			return
		}
		event = audit.AuthenticationEvent(audit.ActionAuthenticate, audit.OutcomeSuccess, audit.SubjectFrom(r, res))
	case kind.IsA(auth.KindAccessDenied):
		event = audit.AuthorizationEvent(audit.OutcomeDenied, audit.SubjectFrom(r, res), nil)
	case kind.IsA(auth.KindAuthentication):
		event = audit.AuthenticationEvent(audit.ActionAuthenticate, audit.OutcomeFailure, audit.SubjectFrom(r, res))
	default:
		return
	}
	event.WithResource(audit.ResourceFrom(r, rule)).WithError(out.Err)
	m.audit.LogEvent(r.Context(), event)
}

func plainInternalError(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
