// Package identifier derives the stable public identifier of an image.
package identifier

import (
	"crypto/sha256"
	"encoding/base64"
)

// Derive returns the URL-safe, unpadded base64 encoding of the SHA-256
// digest of url. The same url always yields the same identifier, so two
// providers pointing at one image collapse to a single record.
func Derive(url string) string {
	sum := sha256.Sum256([]byte(url))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
