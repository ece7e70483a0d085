// Package util provides small shared helpers for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRateLimited.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., RateLimitError, UpstreamError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// Authentication failures are not util errors: they are auth.Error
// values classified by Kind and rendered by the error dispatcher.
package util
