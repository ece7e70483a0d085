package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/vyrodovalexey/apimlgw/internal/auth"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
	"github.com/vyrodovalexey/apimlgw/internal/util"
)

// Logging returns a middleware that logs HTTP requests and records
// request metrics. The authenticated user is read back from the request
// context, so the security pipeline must run inside this middleware.
func Logging(logger observability.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r = r.WithContext(util.ContextWithStartTime(r.Context(), start))

			rw := util.NewStatusCapturingResponseWriter(w)
			user := &userCapture{}
			next.ServeHTTP(rw, r.WithContext(withUserCapture(r.Context(), user)))

			duration := util.ElapsedTime(r.Context())
			metrics.recordRequest(r.Method, rw.StatusCode, duration)

			logger.WithContext(r.Context()).Info("http request",
				observability.String("method", r.Method),
				observability.String("path", r.URL.Path),
				observability.Int("status", rw.StatusCode),
				observability.Int("size", rw.BytesWritten),
				observability.Duration("duration", duration),
				observability.String("remote_addr", r.RemoteAddr),
				observability.String("user_agent", r.UserAgent()),
				observability.String("user", user.value),
			)
		})
	}
}

type userCaptureKey struct{}

// userCapture carries the authenticated user id from inside the security
// pipeline back out to the access log.
type userCapture struct {
	value string
}

func withUserCapture(ctx context.Context, c *userCapture) context.Context {
	return context.WithValue(ctx, userCaptureKey{}, c)
}

// RecordUser returns a middleware that reports the authenticated user to
// the enclosing Logging middleware. It must run after the security
// pipeline has stored the result.
func RecordUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, ok := r.Context().Value(userCaptureKey{}).(*userCapture); ok {
				if res, ok := auth.ResultFromContext(r.Context()); ok {
					c.value = res.UserID()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
