// Package jwtx decodes the identity provider's tokens and, for test servers,
// mints them.
package jwtx

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ACRMultiFactor is the OpenID PAPE policy requested during step-up.
const ACRMultiFactor = "http://schemas.openid.net/pape/policies/2007/06/multi-factor"

var ErrMalformed = errors.New("jwtx: malformed token")

// Claims are the access and ID token claims issued by the identity provider.
// Unknown claims are ignored.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID
	SID string `json:"sid,omitempty"`

	Email             string   `json:"email,omitempty"`
	Name              string   `json:"name,omitempty"`
	ProfilePictureURL string   `json:"profilePictureUrl,omitempty"`
	TenantID          string   `json:"tenantId,omitempty"`
	TenantIDs         []string `json:"tenantIds,omitempty"`
	Roles             []string `json:"roles,omitempty"`
	Permissions       []string `json:"permissions,omitempty"`

	// Authentication Methods Reference ["pwd","otp","mfa","webauthn"]
	AMR []string `json:"amr,omitempty"`

	// ACR is set to ACRMultiFactor after a step-up.
	ACR string `json:"acr,omitempty"`

	// AuthTime is when the user last actively authenticated.
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`

	Nonce string `json:"nonce,omitempty"`
}

// AuthenticatedAt returns auth_time, falling back to iat.
func (c *Claims) AuthenticatedAt() time.Time {
	if c.AuthTime != nil {
		return c.AuthTime.Time
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// Expiry returns exp or the zero time when the token does not expire.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpiresWithin reports whether the token expires before now+window.
// Tokens without exp never expire.
func (c *Claims) ExpiresWithin(now time.Time, window time.Duration) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(window).Before(exp)
}

// IsMultiFactor reports whether the token proves a strong authentication.
func (c *Claims) IsMultiFactor() bool {
	return c.ACR == ACRMultiFactor || slices.Contains(c.AMR, "mfa")
}
