package audit

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAuthorization  EventType = "authorization"
	EventTypeSecurity       EventType = "security"
)

// Action represents the audited action.
type Action string

// Actions.
const (
	// ActionAuthenticate is a credential checked by the security chain.
	ActionAuthenticate Action = "authenticate"
	ActionLogin        Action = "login"
	ActionLogout       Action = "logout"
	ActionAccess       Action = "access"

	// ActionRateLimit is a request refused by a throttle.
	ActionRateLimit Action = "rate_limit_exceeded"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`

	Subject  *Subject      `json:"subject,omitempty"`
	Resource *Resource     `json:"resource,omitempty"`
	Error    *ErrorDetails `json:"error,omitempty"`

	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
	SpanID    string `json:"span_id,omitempty"`
}

// Subject is the party behind the request.
type Subject struct {
	// ID is the authenticated user id, empty for anonymous callers.
	ID             string   `json:"id,omitempty"`
	CredentialType string   `json:"credential_type,omitempty"`
	Groups         []string `json:"groups,omitempty"`
	IPAddress      string   `json:"ip_address,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
}

// Resource is the request target.
type Resource struct {
	Method string `json:"method"`
	Path   string `json:"path"`

	// Rule names the security rule that matched, if any.
	Rule string `json:"rule,omitempty"`
}

// ErrorDetails describes a failure.
type ErrorDetails struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// NewEvent creates a new audit event.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithError records err and its failure kind. A nil err is ignored.
func (e *Event) WithError(err error) *Event {
	if err == nil {
		return e
	}
	e.Error = &ErrorDetails{Kind: auth.KindOf(err).String(), Message: err.Error()}
	return e
}

// AuthenticationEvent creates an authentication event.
func AuthenticationEvent(action Action, outcome Outcome, subject *Subject) *Event {
	return NewEvent(EventTypeAuthentication, action, outcome).WithSubject(subject)
}

// AuthorizationEvent creates an authorization event.
func AuthorizationEvent(outcome Outcome, subject *Subject, resource *Resource) *Event {
	return NewEvent(EventTypeAuthorization, ActionAccess, outcome).
		WithSubject(subject).
		WithResource(resource)
}

// SecurityEvent creates a security event.
func SecurityEvent(action Action, outcome Outcome, subject *Subject) *Event {
	return NewEvent(EventTypeSecurity, action, outcome).WithSubject(subject)
}

// SubjectFrom describes the caller of r. res may be nil.
func SubjectFrom(r *http.Request, res *auth.Result) *Subject {
	s := &Subject{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if res != nil {
		s.ID = res.UserID()
		s.CredentialType = string(res.CredentialType())
		if res.Principal != nil {
			s.Groups = res.Principal.Groups
		}
	}
	return s
}

// ResourceFrom describes the target of r.
func ResourceFrom(r *http.Request, rule string) *Resource {
	return &Resource{Method: r.Method, Path: r.URL.Path, Rule: rule}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
