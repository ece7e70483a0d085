package certificate

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Codec errors.
var (
	// ErrEmptyCertificate indicates that the header value carried no data.
	ErrEmptyCertificate = errors.New("empty certificate value")

	// ErrMalformedCertificate indicates that the value could not be decoded.
	ErrMalformedCertificate = errors.New("malformed certificate value")
)

const pemBlockCertificate = "CERTIFICATE"

// Decode parses a certificate carried in a forwarding header.
//
// Accepted forms are plain base64 DER, base64 DER wrapped in colons as
// in RFC 9440, and PEM that is optionally URL escaped. Whitespace inside
// base64 data is ignored.
func Decode(value string) (*x509.Certificate, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrEmptyCertificate
	}

	if strings.HasPrefix(value, "-----BEGIN") || strings.HasPrefix(strings.ToUpper(value), "%2D%2D") {
		return decodePEM(value)
	}

	der, err := decodeBase64(strings.Trim(value, ":"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}
	return cert, nil
}

// Encode returns the base64 DER form of cert, the inverse of Decode.
func Encode(cert *x509.Certificate) string {
	return base64.StdEncoding.EncodeToString(cert.Raw)
}

func decodeBase64(value string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, value)

	der, err := base64.StdEncoding.DecodeString(compact)
	if err == nil {
		return der, nil
	}
	if der, rawErr := base64.RawStdEncoding.DecodeString(compact); rawErr == nil {
		return der, nil
	}
	return nil, err
}

func decodePEM(value string) (*x509.Certificate, error) {
	if strings.Contains(value, "%") {
		unescaped, err := url.PathUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
		}
		value = unescaped
	}
	block, _ := pem.Decode([]byte(value))
	if block == nil || block.Type != pemBlockCertificate {
		return nil, fmt.Errorf("%w: no PEM certificate block", ErrMalformedCertificate)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}
	return cert, nil
}

// LoadPEMFile reads every certificate block from a PEM file.
func LoadPEMFile(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file %s: %w", path, err)
	}

	var certs []*x509.Certificate
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemBlockCertificate {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate in %s: %w", path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return certs, nil
}

// Info is a JSON-friendly summary of a certificate.
type Info struct {
	SubjectDN    string    `json:"subjectDN"`
	IssuerDN     string    `json:"issuerDN"`
	SerialNumber string    `json:"serialNumber"`
	NotBefore    time.Time `json:"notBefore"`
	NotAfter     time.Time `json:"notAfter"`
	DNSNames     []string  `json:"dnsNames,omitempty"`
	Emails       []string  `json:"emails,omitempty"`
	PublicKey    string    `json:"publicKey"`
	Fingerprint  string    `json:"fingerprint"`
}

// InfoOf summarizes cert.
func InfoOf(cert *x509.Certificate) Info {
	sum := sha256.Sum256(cert.Raw)
	return Info{
		SubjectDN:    cert.Subject.String(),
		IssuerDN:     cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DNSNames:     cert.DNSNames,
		Emails:       cert.EmailAddresses,
		PublicKey:    KeyOf(cert),
		Fingerprint:  hex.EncodeToString(sum[:]),
	}
}
