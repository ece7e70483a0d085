package certificate

import (
	"crypto/x509"
	"net/http"

	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Branch identifies which categorization path a request took.
type Branch string

// Categorization branches.
const (
	// BranchNone means the TLS peer presented no certificates.
	BranchNone Branch = "none"

	// BranchForwarded means a trusted gateway hop relayed the client
	// certificate in the forwarding header.
	BranchForwarded Branch = "forwarded"

	// BranchDirect means the TLS chain was classified as is.
	BranchDirect Branch = "direct"
)

// Forwarding header outcomes recorded in metrics.
const (
	headerAccepted  = "accepted"
	headerIgnored   = "ignored"
	headerMalformed = "malformed"
)

// Categorized is the per-request classification of certificates.
type Categorized struct {
	// ClientAuth holds certificates usable for X.509 login.
	ClientAuth []*x509.Certificate

	// InternalTrust holds certificates proving the request came through
	// another gateway instance.
	InternalTrust []*x509.Certificate

	Branch Branch
}

// ClientCertificate returns the first client authentication certificate
// or nil.
func (c Categorized) ClientCertificate() *x509.Certificate {
	if len(c.ClientAuth) == 0 {
		return nil
	}
	return c.ClientAuth[0]
}

// Categorizer decides per request which certificates identify a client
// and which identify a trusted gateway hop.
type Categorizer struct {
	keys              *TrustedKeySet
	forwardingEnabled bool
	header            string
	logger            observability.Logger
	metrics           *Metrics
}

// CategorizerOption configures a Categorizer.
type CategorizerOption func(*Categorizer)

// WithForwarding enables honoring the forwarding header from trusted hops.
func WithForwarding(enabled bool) CategorizerOption {
	return func(c *Categorizer) {
		c.forwardingEnabled = enabled
	}
}

// WithForwardHeader sets the name of the forwarding header.
func WithForwardHeader(name string) CategorizerOption {
	return func(c *Categorizer) {
		if name != "" {
			c.header = name
		}
	}
}

// WithCategorizerLogger sets the logger.
func WithCategorizerLogger(logger observability.Logger) CategorizerOption {
	return func(c *Categorizer) {
		c.logger = logger
	}
}

// WithCategorizerMetrics sets the metrics.
func WithCategorizerMetrics(m *Metrics) CategorizerOption {
	return func(c *Categorizer) {
		c.metrics = m
	}
}

// DefaultForwardHeader is the header carrying a relayed client certificate.
const DefaultForwardHeader = "Client-Cert"

// NewCategorizer creates a Categorizer over keys.
func NewCategorizer(keys *TrustedKeySet, opts ...CategorizerOption) *Categorizer {
	c := &Categorizer{
		keys:   keys,
		header: DefaultForwardHeader,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Header returns the forwarding header name.
func (c *Categorizer) Header() string {
	return c.header
}

// CategorizeRequest classifies the TLS peer chain and forwarding header of
// r and removes the header from r in every case.
func (c *Categorizer) CategorizeRequest(r *http.Request) Categorized {
	var chain []*x509.Certificate
	if r.TLS != nil {
		chain = r.TLS.PeerCertificates
	}
	header := r.Header.Get(c.header)
	r.Header.Del(c.header)

	return c.Categorize(chain, header)
}

// Categorize classifies tlsChain, using header only when forwarding is
// enabled and the leaf of tlsChain is already trusted. It never fails.
func (c *Categorizer) Categorize(tlsChain []*x509.Certificate, header string) Categorized {
	if len(tlsChain) == 0 {
		if header != "" {
			c.logger.Debug("ignoring forwarded certificate on connection without client certificate")
			c.recordHeader(headerIgnored)
		}
		c.recordBranch(BranchNone)
		return Categorized{Branch: BranchNone}
	}

	snapshot := c.keys.Snapshot()

	if header != "" {
		if c.forwardingEnabled && snapshot.Trusts(tlsChain[0]) {
			if forwarded, ok := c.decodeHeader(header); ok {
				if added := c.keys.AddCertificates(tlsChain...); added > 0 {
					c.logger.Info("trusted gateway keys learned from internal hop",
						observability.Int("added", added),
						observability.Int("total", c.keys.Len()),
					)
				}
				c.recordHeader(headerAccepted)

				candidates := make([]*x509.Certificate, 0, len(tlsChain)+1)
				candidates = append(candidates, forwarded)
				candidates = append(candidates, tlsChain...)
				c.recordBranch(BranchForwarded)
				return partition(c.keys.Snapshot(), candidates, BranchForwarded)
			}
		} else {
			c.logger.Debug("ignoring forwarded certificate from untrusted hop",
				observability.String("subject", tlsChain[0].Subject.String()),
			)
			c.recordHeader(headerIgnored)
		}
	}

	c.recordBranch(BranchDirect)
	return partition(snapshot, tlsChain, BranchDirect)
}

func (c *Categorizer) decodeHeader(value string) (*x509.Certificate, bool) {
	cert, err := Decode(value)
	if err != nil {
		c.logger.Warn("malformed forwarded certificate",
			observability.String("header", c.header),
			observability.Error(err),
		)
		c.recordHeader(headerMalformed)
		return nil, false
	}
	return cert, true
}

// partition splits certs by membership of their key in snapshot.
func partition(snapshot Snapshot, certs []*x509.Certificate, branch Branch) Categorized {
	out := Categorized{Branch: branch}
	for _, cert := range certs {
		if snapshot.Trusts(cert) {
			out.InternalTrust = append(out.InternalTrust, cert)
		} else {
			out.ClientAuth = append(out.ClientAuth, cert)
		}
	}
	return out
}

func (c *Categorizer) recordBranch(b Branch) {
	if c.metrics != nil {
		c.metrics.RecordCategorization(b)
	}
}

func (c *Categorizer) recordHeader(result string) {
	if c.metrics != nil {
		c.metrics.RecordForwardedHeader(result)
	}
}
