// Package storage exchanges object-store references (gs://, s3://) for
// time-limited signed URLs. It defines the Signer port and implementations for
// Google Cloud Storage and Amazon S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Static errors for storage operations.
var (
	// ErrInvalidURI is returned when a reference is not scheme://bucket/key.
	ErrInvalidURI = errors.New("storage: invalid object URI")
	// ErrNoSigner is returned when no signer is registered for a scheme.
	ErrNoSigner = errors.New("storage: no signer for scheme")
	// ErrSignFailed is returned when a signer cannot produce a URL.
	ErrSignFailed = errors.New("storage: sign failed")
)

// DefaultSignedURLTTL is how long signed URLs stay valid by default.
const DefaultSignedURLTTL = 15 * time.Minute

// Ref identifies an object in a bucket.
type Ref struct {
	Scheme string
	Bucket string
	Key    string
}

// String returns the reference as scheme://bucket/key.
func (r Ref) String() string {
	return fmt.Sprintf("%s://%s/%s", r.Scheme, r.Bucket, r.Key)
}

// ParseURI splits scheme://bucket/key. The scheme is lower-cased; bucket and
// key must be non-empty. The key is everything after the first slash following
// the bucket and is taken verbatim, so '?' and '#' are part of the object name.
func ParseURI(raw string) (Ref, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidURI, raw)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	ref := Ref{
		Scheme: strings.ToLower(scheme),
		Bucket: bucket,
		Key:    key,
	}
	if ref.Scheme == "" || ref.Bucket == "" || ref.Key == "" {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidURI, raw)
	}
	return ref, nil
}

// Signer produces signed GET URLs for objects it can reach.
type Signer interface {
	// SignedURL returns a URL granting read access to ref for ttl.
	SignedURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error)
}

// Mux dispatches references to the signer registered for their scheme.
type Mux struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{signers: make(map[string]Signer)}
}

// Register assigns s to scheme, e.g. "gs" or "s3".
func (m *Mux) Register(scheme string, s Signer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signers[strings.ToLower(scheme)] = s
}

// Handles reports whether a signer is registered for scheme.
func (m *Mux) Handles(scheme string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.signers[strings.ToLower(scheme)]
	return ok
}

// SignedURL implements Signer.
func (m *Mux) SignedURL(ctx context.Context, ref Ref, ttl time.Duration) (string, error) {
	m.mu.RLock()
	s, ok := m.signers[ref.Scheme]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w %q", ErrNoSigner, ref.Scheme)
	}
	return s.SignedURL(ctx, ref, ttl)
}

// Compile-time check that Mux implements Signer.
var _ Signer = (*Mux)(nil)
