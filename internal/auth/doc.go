// Package auth defines the authentication model shared by the credential
// extractors and the security pipeline.
//
// # Credentials
//
// A Credential is one of BasicCredential, TokenCredential (Bearer header or
// cookie), X509Credential and OIDCCredential. Extractors in the
// subpackages produce at most one per request and hand it to a Verifier,
// the collaborator that talks to the authentication service.
//
// # Extractor contract
//
// Extract returns one of three outcomes:
//   - (nil, nil): the extractor declines and the next one is tried
//   - (result, nil): the extractor committed to a successful authentication
//   - (nil, err): the extractor committed to a failure; err carries a Kind
//
// Declining never has side effects. The first commitment ends the chain.
//
// # Errors
//
// Failures are *Error values tagged with a Kind. Kinds form a small
// hierarchy (for example TokenExpired is a TokenNotValid, which is an
// Authentication failure) and errors.Is matches along it:
//
//	errors.Is(auth.NewError(auth.KindTokenExpired, "expired"), auth.ErrTokenNotValid) // true
package auth
