package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is a short hex digest of the given parts, joined so that
// ("ab", "c") and ("a", "bc") differ.
func Fingerprint(n int, parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	s := hex.EncodeToString(sum[:])
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}
