/*
Package authsdk is a thin HTTP client for the hosted identity provider.

# Overview

An SDKClient talks to one region. It issues JSON requests with the standard
headers (Accept, Origin, and Authorization when a token is given), decodes the
responses into typed structs and classifies every failure:

  - transport failures are autherr.KindNetwork
  - undecodable bodies are autherr.KindDecoding
  - 4xx responses are *OAuth2Error, classified as authentication failures
  - 5xx responses are *OAuth2Error, classified as network failures

The client never retries. Higher layers decide whether an operation is worth
repeating.

	client := authsdk.NewSDKClient("https://auth.example.com", clientID)

	tokens, err := client.ExchangeCode(ctx, code, redirectURI, verifier)
	if err != nil {
		return err
	}
	user, err := client.Me(ctx, tokens.AccessToken)

# MFA

When the user has a second factor enrolled the token endpoints answer with
*MFARequiredError instead of tokens, either as a 409 or as a 200 body with
mfaRequired set. The error carries the MFA token the code is submitted with:

	tokens, err := client.ExchangeCode(ctx, code, redirectURI, verifier)
	var mfaErr *authsdk.MFARequiredError
	if errors.As(err, &mfaErr) {
		tokens, err = client.VerifyMFA(ctx, mfaErr.MFAToken, otpCode)
	}

errors.Is(err, autherr.ErrMFARequired) also matches.

# Passkeys

WebAuthnPrelogin and WebAuthnRegisterDevice return go-webauthn protocol
options. The platform result is posted back as WebAuthn JSON with
WebAuthnPostlogin and WebAuthnVerifyDevice.

# ID Tokens

VerifyIDToken checks ID tokens against the region's JWKS using go-oidc. The
key set is fetched lazily and cached for the lifetime of the client.
*/
package authsdk
