// Package id provides unique identifier generation for orchestration sessions.
package id

import (
	"github.com/google/uuid"
)

// Prefix is prepended to every generated session ID.
const Prefix = "sess-"

// Generate creates a new unique session ID.
// Format: sess-<uuid v4>
// Example: sess-9b2f6c1e-3d4a-4e0b-8f5a-6a1c2b3d4e5f
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s looks like a generated session ID.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := uuid.Parse(s[len(Prefix):])
	return err == nil
}
