// Package sha256 fingerprints crawled page bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes page content with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
