package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ParseUnverified decodes a token's claims without checking its signature.
//
// Clients use it to read expiry and identity hints from tokens they just
// received over TLS from the token endpoint. It must never be used to make
// authorization decisions.
func ParseUnverified(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}
