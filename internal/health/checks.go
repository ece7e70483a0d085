package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Breaker state names reported by the authentication service client.
const (
	breakerOpen     = "open"
	breakerHalfOpen = "half-open"
)

// BreakerCheck reports the authentication service breaker. An open
// breaker degrades the gateway rather than taking it out of rotation:
// requests that need no verification still succeed.
func BreakerCheck(state func() string) CheckFunc {
	return func(context.Context) Check {
		switch s := state(); s {
		case breakerOpen, breakerHalfOpen:
			return Check{Status: StatusDegraded, Message: "circuit breaker " + s}
		default:
			return Check{Status: StatusHealthy, Message: "circuit breaker " + s}
		}
	}
}

// RedisCheck pings the verification cache. The cache is optional for
// correctness, so a failed ping only degrades.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) Check {
		if err := client.Ping(ctx).Err(); err != nil {
			return Check{Status: StatusDegraded, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
