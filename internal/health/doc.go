// Package health serves the gateway's /application/health and
// /application/info endpoints.
//
// Checks are registered by name and run on every health request:
//
//	checker := health.NewChecker(version, "microservice")
//	checker.RegisterCheck("authService", health.BreakerCheck(client.State))
//	checker.RegisterCheck("verificationCache", health.RedisCheck(rdb))
//
// An unhealthy check turns the response into a 503. A degraded check
// keeps the 200 and is reported in the body.
package health
