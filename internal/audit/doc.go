// Package audit records security-relevant events of the gateway.
//
// The security middleware emits an authentication event for every
// committed credential and an authorization event for every denial. The
// token controller adds login, logout and throttling events. Each event
// carries the caller, the request target, the request id and the trace
// context, and is written as one JSON object or text line.
//
//	logger, err := audit.NewLogger(&audit.Config{Enabled: true, Output: "stdout"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.LogEvent(ctx, audit.AuthenticationEvent(
//	    audit.ActionLogin, audit.OutcomeSuccess, audit.SubjectFrom(r, result),
//	))
package audit
