package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// RateLimitError represents a rate limit exceeded error.
type RateLimitError struct {
	Limit      float64
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %g/s, retry after: %v)", e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(limit float64, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Limit: limit, RetryAfter: retryAfter}
}

// UpstreamError represents a failure to reach the proxying stage.
type UpstreamError struct {
	Target string
	Cause  error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s: %v", e.Target, e.Cause)
	}
	return "upstream " + e.Target + " unavailable"
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrUpstreamUnavailable {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(target string, cause error) *UpstreamError {
	return &UpstreamError{Target: target, Cause: cause}
}
