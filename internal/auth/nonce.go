package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NonceSize is the byte length of the per-connection challenge, matching
// the 16-byte random challenge spec.md §4.7 sends unsolicited at connect.
const NonceSize = 16

// NewNonce generates a fresh random challenge and returns its hex encoding,
// the form written on the wire as the greeting's fourth field.
func NewNonce() (string, error) {
	buf := make([]byte, NonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
