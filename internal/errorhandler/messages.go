package errorhandler

import (
	"fmt"
	"net/http"
)

// Message keys. They are stable identifiers clients may rely on.
const (
	KeyInvalidInput           = "apimlgw.security.login.invalidInput"
	KeyAuthenticationRequired = "apimlgw.security.authenticationRequired"
	KeyInvalidUsername        = "apimlgw.security.login.invalidCredentials"
	KeyInvalidToken           = "apimlgw.security.query.invalidToken"
	KeyExpiredToken           = "apimlgw.security.expiredToken"
	KeyTokenFormatNotValid    = "apimlgw.security.query.tokenFormatNotValid"
	KeyInvalidCertificate     = "apimlgw.security.common.certificate.invalid"
	KeyServiceUnavailable     = "apimlgw.security.authenticationServiceUnavailable"
	KeyGenericAuthentication  = "apimlgw.security.generic"
	KeyForbidden              = "apimlgw.security.forbidden"
	KeyMethodNotSupported     = "apimlgw.security.invalidMethod"
	KeyNotFound               = "apimlgw.common.endPointNotFound"
	KeyInternalError          = "apimlgw.common.internalServerError"

	// Written outside the dispatcher by the login throttle and the proxy.
	KeyTooManyRequests     = "apimlgw.security.login.tooManyRequests"
	KeyUpstreamUnavailable = "apimlgw.common.upstreamUnavailable"
)

// Message types.
const (
	TypeError = "ERROR"
)

// Message is one entry of an error response body.
type Message struct {
	Key     string `json:"messageKey"`
	Type    string `json:"messageType"`
	Content string `json:"messageContent"`
}

// Body is the JSON error response body.
type Body struct {
	Messages []Message `json:"messages"`
}

// messageTemplates hold the human text per key. %s is the request URI.
var messageTemplates = map[string]string{
	KeyInvalidInput:           "Authorization header is missing, or the request body is missing or invalid for URL '%s'",
	KeyAuthenticationRequired: "Authentication is required for URL '%s'",
	KeyInvalidUsername:        "Invalid username or password for URL '%s'",
	KeyInvalidToken:           "Token is not valid for URL '%s'",
	KeyExpiredToken:           "The provided authentication token has expired for URL '%s'",
	KeyTokenFormatNotValid:    "Token is not in a valid format for URL '%s'",
	KeyInvalidCertificate:     "The client certificate is not valid for URL '%s'",
	KeyServiceUnavailable:     "Authentication service is not available for URL '%s'",
	KeyGenericAuthentication:  "An unknown authentication error occurred for URL '%s'",
	KeyForbidden:              "Access to URL '%s' is forbidden",
	KeyMethodNotSupported:     "Authentication method is not supported for URL '%s'",
	KeyNotFound:               "The endpoint '%s' was not found",
	KeyInternalError:          "The request to URL '%s' failed with an internal error",
	KeyTooManyRequests:        "Too many login attempts for URL '%s'",
	KeyUpstreamUnavailable:    "The service behind URL '%s' is not reachable",
}

// NewBody builds the single-message error body for key and request r.
func NewBody(key string, r *http.Request) Body {
	return Body{Messages: []Message{{
		Key:     key,
		Type:    TypeError,
		Content: fmt.Sprintf(messageTemplates[key], r.URL.RequestURI()),
	}}}
}
