package device

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint derives a stable 256-bit hex identifier from a device's
// attribute map (user agent, screen resolution, timezone, platform, ...).
//
// The encoding is canonical: json.Marshal writes map keys in sorted order
// with no extraneous whitespace, so the same attributes always produce the
// same fingerprint regardless of insertion order.
func Fingerprint(info map[string]string) string {
	canonical, err := json.Marshal(info)
	if err != nil {
		// A map[string]string cannot fail to marshal.
		panic(err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
