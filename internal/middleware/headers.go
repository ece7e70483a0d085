package middleware

import (
	"fmt"
	"net/http"
)

// SecurityHeadersConfig lists the response headers added to every response.
type SecurityHeadersConfig struct {
	XFrameOptions       string
	XContentTypeOptions string
	CacheControl        string
	ReferrerPolicy      string

	// HSTSMaxAge is sent as Strict-Transport-Security on TLS requests
	// when positive.
	HSTSMaxAge     int
	HSTSSubdomains bool
	CustomHeaders  map[string]string
}

// DefaultSecurityHeaders returns the headers the gateway sends unless
// configured otherwise. Authentication responses carry tokens and
// identities, so they are never cacheable.
func DefaultSecurityHeaders() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		CacheControl:        "no-store",
		ReferrerPolicy:      "no-referrer",
		HSTSMaxAge:          31536000,
		HSTSSubdomains:      true,
	}
}

// SecurityHeaders returns a middleware that adds security headers to
// responses. Headers are set before the handler runs so a handler may
// still override them.
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
		if cfg.HSTSSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			setIfNotEmpty(h, "X-Frame-Options", cfg.XFrameOptions)
			setIfNotEmpty(h, "X-Content-Type-Options", cfg.XContentTypeOptions)
			setIfNotEmpty(h, "Cache-Control", cfg.CacheControl)
			setIfNotEmpty(h, "Referrer-Policy", cfg.ReferrerPolicy)
			if hsts != "" && r.TLS != nil {
				h.Set("Strict-Transport-Security", hsts)
			}
			for name, value := range cfg.CustomHeaders {
				h.Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setIfNotEmpty(h http.Header, name, value string) {
	if value != "" {
		h.Set(name, value)
	}
}
