package middleware

import (
	"errors"
	"io"
	"net/http"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// ErrBodyTooLarge is returned by reads past the configured body limit.
var ErrBodyTooLarge = errors.New("request body size exceeded")

// BodyLimit returns a middleware that limits the request body size.
// A declared Content-Length above the limit is rejected with 413 before
// the security pipeline runs; undeclared bodies fail on read.
func BodyLimit(maxSize int64, logger observability.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxSize <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				logger.WithContext(r.Context()).Warn("request body too large",
					observability.Any("content_length", r.ContentLength),
					observability.Any("max_size", maxSize),
					observability.String("path", r.URL.Path),
				)
				metrics.recordBodyLimitRejected()
				w.Header().Set(HeaderContentType, ContentTypeJSON)
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = io.WriteString(w, ErrRequestEntityTooLarge)
				return
			}

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = &limitedReadCloser{ReadCloser: r.Body, remaining: maxSize}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitedReadCloser wraps an io.ReadCloser and limits the number of bytes that can be read.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
}

// Read reads up to len(p) bytes into p, respecting the remaining limit.
func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// One probe byte distinguishes an exact-size body from an oversized one.
		var probe [1]byte
		n, err := l.ReadCloser.Read(probe[:])
		if n > 0 {
			return 0, ErrBodyTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.ReadCloser.Read(p)
	l.remaining -= int64(n)
	return n, err
}
