// Package token generates the opaque identifiers and secrets used for links.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// idBytes yields a 32-character hex identifier, large enough that collisions
// are negligible while staying short enough for a URL path segment.
const idBytes = 16

// NewLinkID returns a fresh random link identifier.
func NewLinkID() (string, error) {
	return randomHex(idBytes)
}

// NewDeleteToken returns the secret that authorizes manual deletion. It is
// drawn independently of the link identifier, so knowing one reveals nothing
// about the other.
func NewDeleteToken() (string, error) {
	return randomHex(idBytes)
}

// Equal compares a presented token against the stored one in constant time.
func Equal(presented, stored string) bool {
	if presented == "" || stored == "" {
		return false
	}
	return hmac.Equal([]byte(presented), []byte(stored))
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
