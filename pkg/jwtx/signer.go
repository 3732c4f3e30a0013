package jwtx

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints ES256 tokens. The SDK itself never signs anything; the fake
// identity provider used in tests does.
type Signer struct {
	kid string
	key *ecdsa.PrivateKey
}

// NewSigner generates a fresh P-256 key under kid.
func NewSigner(kid string) (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("jwtx: generate key: %w", err)
	}
	return &Signer{kid: kid, key: key}, nil
}

func (s *Signer) KID() string { return s.kid }

// Sign serialises claims as a compact JWS with the kid header set.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

// JWKS returns the key set to publish for verifiers.
func (s *Signer) JWKS() JWKS {
	return JWKS{Keys: []JWK{NewES256JWK(s.kid, &s.key.PublicKey)}}
}
