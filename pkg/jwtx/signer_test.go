package jwtx_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestSignAndParseUnverified(t *testing.T) {
	t.Parallel()

	signer, err := jwtx.NewSigner("kid-1")
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	token, err := signer.Sign(&jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email:     "ada@example.com",
		TenantID:  "t1",
		TenantIDs: []string{"t1", "t2"},
	})
	require.NoError(t, err)

	claims, err := jwtx.ParseUnverified(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "ada@example.com", claims.Email)
	require.Equal(t, []string{"t1", "t2"}, claims.TenantIDs)
	require.True(t, now.Add(time.Hour).Equal(claims.Expiry()))
}

func TestParseUnverifiedRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := jwtx.ParseUnverified("not.a.jwt")
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}

func TestSignerJWKSVerifiesSignature(t *testing.T) {
	t.Parallel()

	signer, err := jwtx.NewSigner("kid-2")
	require.NoError(t, err)

	token, err := signer.Sign(&jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}})
	require.NoError(t, err)

	jwks := signer.JWKS()
	require.Len(t, jwks.Keys, 1)
	jwk := jwks.Keys[0]
	require.Equal(t, "EC", jwk.Kty)
	require.Equal(t, "kid-2", jwk.Kid)

	x, err := base64.RawURLEncoding.DecodeString(jwk.X)
	require.NoError(t, err)
	y, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	require.NoError(t, err)
	require.Len(t, x, 32)
	require.Len(t, y, 32)

	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
	parsed, err := jwt.ParseWithClaims(token, &jwtx.Claims{}, func(t *jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	require.Equal(t, "kid-2", parsed.Header["kid"])
}
