// Package checksum produces content fingerprints used for cache
// invalidation decisions.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the SHA-256 hex digest of content, or nil for empty content.
// The digest is an opaque equality token; callers must not parse it.
func Sum(content string) *string {
	if content == "" {
		return nil
	}
	h := sha256.Sum256([]byte(content))
	digest := hex.EncodeToString(h[:])
	return &digest
}
