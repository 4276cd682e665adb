// Package digest computes the content identity of a save file.
// The full SHA-256 hex string is the version identity everywhere in the
// ledger; only blob filenames use the shortened form.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortEnds is how many hex characters Shorten keeps from each end.
const shortEnds = 4

// Sum returns the SHA-256 of b as lowercase hex.
func Sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Shorten reduces a digest to its first and last shortEnds characters,
// bounding blob filename length. Digests too short to shorten are
// returned as-is.
func Shorten(d string) string {
	if len(d) <= 2*shortEnds {
		return d
	}
	return d[:shortEnds] + d[len(d)-shortEnds:]
}
