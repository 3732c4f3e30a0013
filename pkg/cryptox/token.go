// Package cryptox holds the small cryptographic helpers the SDK needs: random
// tokens, PKCE pairs and authenticated sealing of values at rest.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Token sizes in bytes before encoding.
const (
	// TokenSize128 is used for nonces and OAuth state (22 chars).
	TokenSize128 = 16
	// TokenSize256 is used for device secrets (43 chars).
	TokenSize256 = 32
)

// RandomToken returns size random bytes encoded as unpadded base64url.
func RandomToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("cryptox: token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("cryptox: read random: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewNonce returns a fresh OpenID nonce.
func NewNonce() (string, error) {
	return RandomToken(TokenSize128)
}

// Fingerprint returns a deterministic SHA-256 digest of value, base64url
// encoded. Stores use it so lookup keys never reveal their names.
func Fingerprint(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
