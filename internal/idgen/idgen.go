// Package idgen provides cryptographically random identifiers and secrets.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// New generates a random (version 4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by numBytes random bytes in hex,
// e.g. WithPrefix("tly_", 16) for API tokens.
func WithPrefix(prefix string, numBytes int) string {
	return prefix + Hex(numBytes)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	return hex.EncodeToString(randomBytes(numBytes))
}

// Secret returns numBytes random bytes, standard base64 encoded. Used for
// signing keys written to disk.
func Secret(numBytes int) string {
	return base64.StdEncoding.EncodeToString(randomBytes(numBytes))
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}
