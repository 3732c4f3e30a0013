package cryptox

import "golang.org/x/oauth2"

// MethodS256 is the only PKCE method the SDK emits.
const MethodS256 = "S256"

// PKCE is a verifier and its S256 challenge.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPKCE generates a fresh verifier (RFC 7636, 32 random bytes) and derives
// its challenge.
func NewPKCE() PKCE {
	return PKCEFromVerifier(oauth2.GenerateVerifier())
}

// PKCEFromVerifier derives the S256 challenge for an existing verifier, such
// as one persisted by the hosted login page.
func PKCEFromVerifier(verifier string) PKCE {
	return PKCE{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    MethodS256,
	}
}
