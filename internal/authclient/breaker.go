package authclient

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

var breakerTracer = otel.Tracer("apimlgw/authclient/circuitbreaker")

// errServerStatus marks a 5xx answer so the breaker counts it as a failure.
var errServerStatus = errors.New("authentication service returned a server error")

// breaker guards calls to the authentication service.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string, threshold int, timeout time.Duration, logger observability.Logger, metrics *Metrics) *breaker {
	thresholdU32 := safeIntToUint32(threshold)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= thresholdU32
		},
		IsSuccessful: func(err error) bool {
			// A caller going away says nothing about the service.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("authentication service circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if metrics != nil {
				metrics.SetBreakerState(int(to))
			}

			_, span := breakerTracer.Start(context.Background(),
				"circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	}

	return &breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// execute runs fn through the breaker. A nil breaker runs fn directly.
func (b *breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	if b == nil {
		return fn()
	}
	return b.cb.Execute(fn)
}

func (b *breaker) state() gobreaker.State {
	if b == nil {
		return gobreaker.StateClosed
	}
	return b.cb.State()
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func safeIntToUint32(n int) uint32 {
	if n < 1 {
		return 1
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
