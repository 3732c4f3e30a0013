package passkeys

import (
	"encoding/base64"
	"strings"
)

// Encode returns the unpadded URL-safe base64 form of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode accepts base64 in either alphabet, with or without padding.
func Decode(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}
