// Package retry runs an operation again with exponential backoff and
// jitter. The Redis cache uses it for its startup connectivity check.
// Authentication attempts themselves are never retried.
//
//	err := retry.Do(ctx, &retry.Config{MaxRetries: 2}, func() error {
//	    return call(ctx)
//	}, &retry.Options{ShouldRetry: isTransient})
package retry
