package jwtx

import (
	"crypto/ecdsa"
	"encoding/base64"
)

// JWK is a public key in JSON Web Key format (RFC 7517). Only EC keys are
// produced here.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewES256JWK builds a JWK for an ECDSA P-256 public key.
func NewES256JWK(kid string, pub *ecdsa.PublicKey) JWK {
	// P-256 coordinates are left padded to 32 bytes.
	x := make([]byte, 32)
	y := make([]byte, 32)
	pub.X.FillBytes(x)
	pub.Y.FillBytes(y)

	return JWK{
		Kty: "EC",
		Use: "sig",
		Alg: "ES256",
		Kid: kid,
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(x),
		Y:   base64.RawURLEncoding.EncodeToString(y),
	}
}
