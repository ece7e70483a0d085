package certificate

import (
	"crypto/x509"
	"encoding/base64"
	"sync/atomic"
)

// KeyOf returns the trusted-set key of cert: base64 of its DER encoded
// SubjectPublicKeyInfo.
func KeyOf(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(cert.RawSubjectPublicKeyInfo)
}

// Snapshot is an immutable view of a TrustedKeySet taken at one instant.
type Snapshot struct {
	keys map[string]struct{}
}

// Contains reports whether key was trusted when the snapshot was taken.
func (s Snapshot) Contains(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Trusts reports whether the public key of cert was trusted when the
// snapshot was taken.
func (s Snapshot) Trusts(cert *x509.Certificate) bool {
	return cert != nil && s.Contains(KeyOf(cert))
}

// Len returns the number of keys in the snapshot.
func (s Snapshot) Len() int {
	return len(s.keys)
}

// TrustedKeySet is the process-wide set of public keys belonging to peer
// gateway instances. It only grows.
//
// Reads load one pointer and never block. Inserts copy the current map,
// add the missing keys and publish the copy with compare-and-swap,
// retrying if another insert won the race.
type TrustedKeySet struct {
	keys     atomic.Pointer[map[string]struct{}]
	onChange func(size int)
}

// KeySetOption configures a TrustedKeySet.
type KeySetOption func(*TrustedKeySet)

// WithChangeHook registers fn to be called with the new size after every
// insert that added at least one key.
func WithChangeHook(fn func(size int)) KeySetOption {
	return func(s *TrustedKeySet) {
		s.onChange = fn
	}
}

// NewTrustedKeySet creates an empty set.
func NewTrustedKeySet(opts ...KeySetOption) *TrustedKeySet {
	s := &TrustedKeySet{}
	for _, opt := range opts {
		opt(s)
	}
	empty := make(map[string]struct{})
	s.keys.Store(&empty)
	return s
}

// Snapshot returns the current contents.
func (s *TrustedKeySet) Snapshot() Snapshot {
	return Snapshot{keys: *s.keys.Load()}
}

// Contains reports whether key is currently trusted.
func (s *TrustedKeySet) Contains(key string) bool {
	return s.Snapshot().Contains(key)
}

// Len returns the current number of keys.
func (s *TrustedKeySet) Len() int {
	return len(*s.keys.Load())
}

// Add inserts keys and returns how many were new. Adding a present key is
// a no-op and does not publish a new map.
func (s *TrustedKeySet) Add(keys ...string) int {
	for {
		current := s.keys.Load()

		var missing []string
		for _, k := range keys {
			if k == "" {
				continue
			}
			if _, ok := (*current)[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) == 0 {
			return 0
		}

		next := make(map[string]struct{}, len(*current)+len(missing))
		for k := range *current {
			next[k] = struct{}{}
		}
		for _, k := range missing {
			next[k] = struct{}{}
		}
		if s.keys.CompareAndSwap(current, &next) {
			added := len(next) - len(*current)
			if s.onChange != nil {
				s.onChange(len(next))
			}
			return added
		}
	}
}

// AddCertificates inserts the public keys of certs and returns how many
// were new.
func (s *TrustedKeySet) AddCertificates(certs ...*x509.Certificate) int {
	keys := make([]string, 0, len(certs))
	for _, c := range certs {
		keys = append(keys, KeyOf(c))
	}
	return s.Add(keys...)
}

// SeedFromFiles inserts the public keys of every certificate found in the
// PEM files at paths. It loads the configured peer gateway certificates
// at startup and again when a KeyFileWatcher sees them change.
func (s *TrustedKeySet) SeedFromFiles(paths ...string) (int, error) {
	added := 0
	for _, p := range paths {
		certs, err := LoadPEMFile(p)
		if err != nil {
			return added, err
		}
		added += s.AddCertificates(certs...)
	}
	return added, nil
}
