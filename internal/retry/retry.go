package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Defaults for zero Config fields.
const (
	DefaultInitialBackoff = 50 * time.Millisecond
	DefaultMaxBackoff     = time.Second
	DefaultJitterFactor   = 0.25
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxRetries is the number of attempts after the first one. Zero
	// disables retrying.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// JitterFactor adds up to this fraction of the backoff at random.
	// It is clamped to [0, 1].
	JitterFactor float64
}

func (c *Config) initialBackoff() time.Duration {
	if c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

func (c *Config) maxBackoff() time.Duration {
	if c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

func (c *Config) jitterFactor() float64 {
	switch {
	case c.JitterFactor <= 0:
		return DefaultJitterFactor
	case c.JitterFactor > 1:
		return 1
	default:
		return c.JitterFactor
	}
}

// Options contains optional retry behavior.
type Options struct {
	// ShouldRetry selects retryable errors. Nil retries every error.
	ShouldRetry func(error) bool

	// OnRetry is called before sleeping for the next attempt.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// Do runs fn until it succeeds, returns a non-retryable error or the
// retries are exhausted. It returns the last error of fn, or ctx's
// error when ctx ends first. A nil cfg runs fn once.
func Do(ctx context.Context, cfg *Config, fn func() error, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	maxRetries := 0
	if cfg != nil && cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= maxRetries || (opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr)) {
			return lastErr
		}

		backoff := CalculateBackoff(attempt, cfg.initialBackoff(), cfg.maxBackoff(), cfg.jitterFactor())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// CalculateBackoff returns the wait before retry number attempt+1:
// initial doubled per attempt plus jitter, capped at limit.
func CalculateBackoff(attempt int, initial, limit time.Duration, jitterFactor float64) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt))

	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()

	if backoff > float64(limit) {
		backoff = float64(limit)
	}
	return time.Duration(backoff)
}
