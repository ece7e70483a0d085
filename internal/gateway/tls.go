package gateway

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/vyrodovalexey/apimlgw/internal/certificate"
	"github.com/vyrodovalexey/apimlgw/internal/config"
)

// ClientAuthType maps a configured client authentication mode to the
// crypto/tls policy. "request" asks for a certificate without verifying
// it: trust in a presented chain is decided per request by the
// certificate categorizer and the x509 verifier.
func ClientAuthType(mode string) (tls.ClientAuthType, error) {
	switch mode {
	case config.ClientAuthNone:
		return tls.NoClientCert, nil
	case "", config.ClientAuthRequest:
		return tls.RequestClientCert, nil
	case config.ClientAuthVerifyIfGiven:
		return tls.VerifyClientCertIfGiven, nil
	case config.ClientAuthRequire:
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("unknown client auth mode %q", mode)
	}
}

// ServerTLSConfig builds the listener TLS configuration.
func ServerTLSConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	clientAuth, err := ClientAuthType(cfg.ClientAuth)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientAuth:   clientAuth,
	}

	if cfg.ClientCAFile != "" {
		pool, err := loadClientCA(cfg.ClientCAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
	} else if clientAuth == tls.VerifyClientCertIfGiven || clientAuth == tls.RequireAndVerifyClientCert {
		return nil, fmt.Errorf("client CA required for client auth mode %q", cfg.ClientAuth)
	}

	return tlsConfig, nil
}

func loadClientCA(path string) (*x509.CertPool, error) {
	certs, err := certificate.LoadPEMFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load client CA: %w", err)
	}
	pool := x509.NewCertPool()
	for _, c := range certs {
		pool.AddCert(c)
	}
	return pool, nil
}
