package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"
)

const (
	PathWebAuthnPrelogin      = "/identity/resources/auth/v1/webauthn/prelogin"
	PathWebAuthnPostlogin     = "/identity/resources/auth/v1/webauthn/postlogin"
	PathWebAuthnDevices       = "/identity/resources/users/webauthn/v1/devices"
	PathWebAuthnDevicesVerify = "/identity/resources/users/webauthn/v1/devices/verify"
)

// WebAuthnPrelogin starts a discoverable passkey login.
func (c *SDKClient) WebAuthnPrelogin(ctx context.Context) (*protocol.CredentialAssertion, error) {
	var options protocol.CredentialAssertion
	if err := c.do(ctx, "webauthn prelogin", http.MethodPost, PathWebAuthnPrelogin, struct{}{}, "", &options); err != nil {
		return nil, err
	}
	return &options, nil
}

// WebAuthnPostlogin submits the assertion, encoded as WebAuthn JSON, and
// returns the issued tokens.
func (c *SDKClient) WebAuthnPostlogin(ctx context.Context, assertion json.RawMessage) (*TokenResponse, error) {
	return c.requestToken(ctx, "webauthn postlogin", PathWebAuthnPostlogin, assertion)
}

// WebAuthnRegisterDevice asks for a registration challenge for the signed in
// user.
func (c *SDKClient) WebAuthnRegisterDevice(ctx context.Context, accessToken string) (*protocol.CredentialCreation, error) {
	var options protocol.CredentialCreation
	if err := c.do(ctx, "webauthn register device", http.MethodPost, PathWebAuthnDevices, struct{}{}, accessToken, &options); err != nil {
		return nil, err
	}
	return &options, nil
}

// WebAuthnVerifyDevice submits the attestation. An empty 2xx body yields a
// nil payload.
func (c *SDKClient) WebAuthnVerifyDevice(
	ctx context.Context,
	accessToken string,
	attestation json.RawMessage,
) (json.RawMessage, error) {
	body, err := c.send(ctx, "webauthn verify device", http.MethodPost, PathWebAuthnDevicesVerify, attestation, accessToken)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	return json.RawMessage(body), nil
}
