// Package middleware provides the net/http middleware wrapped around the
// gateway engine.
//
// The chain, outermost first:
//
//	Recovery -> RequestID -> Logging -> SecurityHeaders -> BodyLimit -> [security pipeline] -> engine
//
// Every middleware has the func(http.Handler) http.Handler shape so the
// chain composes without gin.
package middleware
