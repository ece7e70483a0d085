package auth

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

// Failure kinds. The zero value is KindUnknown.
const (
	KindUnknown Kind = iota

	// KindAuthentication is the root of all authentication failures.
	KindAuthentication
	KindCredentialsNotFound
	KindAuthenticationRequired
	KindBadCredentials
	KindTokenNotValid
	KindTokenExpired
	KindTokenFormatInvalid
	KindInvalidCertificate
	KindServiceUnavailable

	KindAccessDenied
	KindMethodNotSupported
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindAuthentication:         "authentication",
	KindCredentialsNotFound:    "credentials_not_found",
	KindAuthenticationRequired: "authentication_required",
	KindBadCredentials:         "bad_credentials",
	KindTokenNotValid:          "token_not_valid",
	KindTokenExpired:           "token_expired",
	KindTokenFormatInvalid:     "token_format_invalid",
	KindInvalidCertificate:     "invalid_certificate",
	KindServiceUnavailable:     "service_unavailable",
	KindAccessDenied:           "access_denied",
	KindMethodNotSupported:     "method_not_supported",
	KindNotFound:               "not_found",
}

var kindParents = map[Kind]Kind{
	KindCredentialsNotFound:    KindAuthentication,
	KindAuthenticationRequired: KindAuthentication,
	KindBadCredentials:         KindAuthentication,
	KindTokenNotValid:          KindAuthentication,
	KindTokenExpired:           KindTokenNotValid,
	KindTokenFormatInvalid:     KindTokenNotValid,
	KindInvalidCertificate:     KindAuthentication,
	KindServiceUnavailable:     KindAuthentication,
}

// String returns the snake_case name of k.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Parent returns the kind k specializes, or KindUnknown for a root.
func (k Kind) Parent() Kind {
	return kindParents[k]
}

// IsA reports whether k equals ancestor or descends from it. KindUnknown
// is not an ancestor of any other kind.
func (k Kind) IsA(ancestor Kind) bool {
	for cur := k; ; {
		if cur == ancestor {
			return true
		}
		parent, ok := kindParents[cur]
		if !ok {
			return false
		}
		cur = parent
	}
}

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Allowed lists the permitted methods of a KindMethodNotSupported error.
	Allowed []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error whose Kind is e.Kind or one of its ancestors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind.IsA(t.Kind)
}

// Sentinels for errors.Is matching. Matching honors the Kind hierarchy.
var (
	ErrAuthentication         = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	ErrCredentialsNotFound    = &Error{Kind: KindCredentialsNotFound, Message: "credentials not found"}
	ErrAuthenticationRequired = &Error{Kind: KindAuthenticationRequired, Message: "authentication required"}
	ErrBadCredentials         = &Error{Kind: KindBadCredentials, Message: "bad credentials"}
	ErrTokenNotValid          = &Error{Kind: KindTokenNotValid, Message: "token not valid"}
	ErrTokenExpired           = &Error{Kind: KindTokenExpired, Message: "token expired"}
	ErrTokenFormatInvalid     = &Error{Kind: KindTokenFormatInvalid, Message: "token format invalid"}
	ErrInvalidCertificate     = &Error{Kind: KindInvalidCertificate, Message: "invalid certificate"}
	ErrServiceUnavailable     = &Error{Kind: KindServiceUnavailable, Message: "authentication service unavailable"}
	ErrAccessDenied           = &Error{Kind: KindAccessDenied, Message: "access denied"}
	ErrMethodNotSupported     = &Error{Kind: KindMethodNotSupported, Message: "method not supported"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
)

// ErrContextSealed is returned when a result is placed into a security
// context that already holds one.
var ErrContextSealed = errors.New("security context already holds an authentication result")

// NewError creates an Error of kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError creates an Error of kind wrapping cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewMethodNotSupported creates a KindMethodNotSupported error listing the
// allowed methods.
func NewMethodNotSupported(method string, allowed []string) *Error {
	return &Error{
		Kind:    KindMethodNotSupported,
		Message: fmt.Sprintf("method %s is not supported", method),
		Allowed: allowed,
	}
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindUnknown
}

// FromVerifier classifies an error returned by a Verifier. Classified
// errors and cancellation pass through unchanged, a deadline becomes
// KindServiceUnavailable and anything else is wrapped as fallback.
func FromVerifier(err error, fallback Kind, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindServiceUnavailable, "authentication service timed out", err)
	}
	if _, ok := AsError(err); ok {
		return err
	}
	return WrapError(fallback, message, err)
}
