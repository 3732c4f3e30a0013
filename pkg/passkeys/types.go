package passkeys

import (
	"encoding/json"
	"time"
)

// PreloginChallenge is what a platform needs to produce an assertion.
type PreloginChallenge struct {
	Challenge        []byte
	RPID             string
	Timeout          time.Duration
	UserVerification string
	AllowCredentials [][]byte
}

// RegistrationChallenge is what a platform needs to create a credential.
type RegistrationChallenge struct {
	Challenge          []byte
	RPID               string
	RPName             string
	UserID             []byte
	UserName           string
	UserDisplayName    string
	Timeout            time.Duration
	ExcludeCredentials [][]byte
}

type RegistrationResult struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AttestationObject []byte
}

type AssertionResult struct {
	CredentialID      []byte
	ClientDataJSON    []byte
	AuthenticatorData []byte
	Signature         []byte
	UserHandle        []byte
}

type attestationJSON struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AttestationObject string `json:"attestationObject"`
}

type assertionJSON struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AuthenticatorData string `json:"authenticatorData"`
	Signature         string `json:"signature"`
	UserHandle        string `json:"userHandle,omitempty"`
}

type credentialJSON[R any] struct {
	ID       string `json:"id"`
	RawID    string `json:"rawId"`
	Type     string `json:"type"`
	Response R      `json:"response"`
}

// JSON encodes the result as a WebAuthn PublicKeyCredential.
func (r *RegistrationResult) JSON() (json.RawMessage, error) {
	id := Encode(r.CredentialID)
	return json.Marshal(credentialJSON[attestationJSON]{
		ID:    id,
		RawID: id,
		Type:  "public-key",
		Response: attestationJSON{
			ClientDataJSON:    Encode(r.ClientDataJSON),
			AttestationObject: Encode(r.AttestationObject),
		},
	})
}

// JSON encodes the result as a WebAuthn PublicKeyCredential.
func (r *AssertionResult) JSON() (json.RawMessage, error) {
	id := Encode(r.CredentialID)
	resp := assertionJSON{
		ClientDataJSON:    Encode(r.ClientDataJSON),
		AuthenticatorData: Encode(r.AuthenticatorData),
		Signature:         Encode(r.Signature),
	}
	if len(r.UserHandle) > 0 {
		resp.UserHandle = Encode(r.UserHandle)
	}
	return json.Marshal(credentialJSON[assertionJSON]{
		ID:       id,
		RawID:    id,
		Type:     "public-key",
		Response: resp,
	})
}
