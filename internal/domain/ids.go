// Package domain contains pure business logic and types.
// No infrastructure dependencies allowed - this is the innermost ring.
package domain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// Identifiers in this system are opaque strings. User and event IDs are
// UUIDs minted here; device IDs arrive from callers and are not parsed.

// NewUserID creates a new random user identifier.
func NewUserID() string {
	return uuid.NewString()
}

// NewEventID creates a new random audit event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// opaqueTokenBytes sizes session identifiers and reset tokens at 256 bits.
const opaqueTokenBytes = 32

// NewOpaqueToken returns a URL-safe random token with 256 bits of entropy.
// Used for session identifiers and password-reset tokens, which must be
// unguessable but carry no structure.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ValidateID rejects empty identifiers before they reach the store.
func ValidateID(raw string) error {
	if raw == "" {
		return ErrEmptyID
	}
	return nil
}
