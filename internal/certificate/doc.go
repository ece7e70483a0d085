// Package certificate classifies the certificates seen on a request.
//
// A request may carry two kinds of certificates: the TLS peer chain
// negotiated by the transport, and a certificate relayed by an upstream
// gateway instance in a forwarding header. The Categorizer splits them into
// client authentication certificates, usable for X.509 login, and internal
// trust certificates, which prove the request came through another gateway.
//
// The split is a strict partition against one snapshot of the
// TrustedKeySet. A forwarding header is honored only when the TLS leaf is
// already trusted, and it is removed from the request in every case so a
// client cannot impersonate a gateway hop by setting it.
//
// KeyFileWatcher keeps the set in step with rotated peer gateway
// certificate files. Like the categorizer it only ever adds keys.
package certificate
