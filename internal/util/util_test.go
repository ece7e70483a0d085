package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitError(t *testing.T) {
	t.Parallel()

	err := NewRateLimitError(2, 1500*time.Millisecond)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, fmt.Errorf("login: %w", err), &RateLimitError{})
	assert.Contains(t, err.Error(), "limit: 2/s")
	assert.Equal(t, 2, err.RetryAfterSeconds())
	assert.Equal(t, 1, NewRateLimitError(1, 0).RetryAfterSeconds())
}

func TestUpstreamError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewUpstreamError("http://svc:8080", cause)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "upstream http://svc:8080: connection refused", err.Error())
	assert.Equal(t, "upstream x unavailable", NewUpstreamError("x", nil).Error())
}

func TestStartTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Zero(t, ElapsedTime(ctx))
	assert.True(t, StartTimeFromContext(ctx).IsZero())

	ctx = ContextWithStartTime(ctx, time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, ElapsedTime(ctx), time.Second)
}

func TestStatusCapturingResponseWriter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewStatusCapturingResponseWriter(rec)
	assert.Equal(t, http.StatusOK, w.StatusCode)

	w.WriteHeader(http.StatusTeapot)
	w.WriteHeader(http.StatusInternalServerError)
	n, err := w.Write([]byte("short"))
	require.NoError(t, err)
	w.Flush()

	assert.Equal(t, 5, n)
	assert.Equal(t, 5, w.BytesWritten)
	assert.Equal(t, http.StatusTeapot, w.StatusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Same(t, rec, w.Unwrap())
}

func TestValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateURL("https://auth.local:8443/api"))
	for _, u := range []string{"", "auth.local", "ftp://x", "http://"} {
		assert.Error(t, ValidateURL(u), u)
	}

	assert.NoError(t, ValidateHeaderName("Client-Cert"))
	assert.Error(t, ValidateHeaderName(""))
	assert.Error(t, ValidateHeaderName("Client Cert"))

	assert.NoError(t, ValidatePort(10010))
	assert.Error(t, ValidatePort(0))
	assert.Error(t, ValidatePort(70000))

	assert.NoError(t, ValidateHTTPMethod(" post "))
	assert.Error(t, ValidateHTTPMethod("FETCH"))
	assert.Error(t, ValidateHTTPMethod("*"))
}
