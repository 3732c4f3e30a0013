package passkeys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
)

// Platform runs the local half of a WebAuthn ceremony. Implementations must
// return promptly once ctx is done.
type Platform interface {
	Create(ctx context.Context, challenge RegistrationChallenge) (*RegistrationResult, error)
	Get(ctx context.Context, challenge PreloginChallenge) (*AssertionResult, error)
}

type virtualCredential struct {
	rpID       string
	userHandle []byte
	id         []byte
	credential virtualwebauthn.Credential
}

// VirtualPlatform is a software authenticator. Credentials live in memory
// for the lifetime of the value.
type VirtualPlatform struct {
	origin string

	mu    sync.Mutex
	creds []virtualCredential
}

// NewVirtualPlatform creates an authenticator that reports origin in client
// data.
func NewVirtualPlatform(origin string) *VirtualPlatform {
	return &VirtualPlatform{origin: origin}
}

// Credentials returns the ids of stored credentials for rpID.
func (p *VirtualPlatform) Credentials(rpID string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out [][]byte
	for _, c := range p.creds {
		if c.rpID == rpID {
			out = append(out, bytes.Clone(c.id))
		}
	}
	return out
}

func (p *VirtualPlatform) Create(ctx context.Context, ch RegistrationChallenge) (*RegistrationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	optionsJSON, err := ch.optionsJSON()
	if err != nil {
		return nil, err
	}
	options, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	rp := virtualwebauthn.RelyingParty{Name: ch.RPName, ID: ch.RPID, Origin: p.origin}
	authenticator := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: ch.UserID,
	})
	credential := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	raw := virtualwebauthn.CreateAttestationResponse(rp, authenticator, credential, *options)

	var ccr protocol.CredentialCreationResponse
	if err := json.Unmarshal([]byte(raw), &ccr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	result := &RegistrationResult{
		CredentialID:      ccr.RawID,
		ClientDataJSON:    ccr.AttestationResponse.ClientDataJSON,
		AttestationObject: ccr.AttestationResponse.AttestationObject,
	}

	p.mu.Lock()
	p.creds = append(p.creds, virtualCredential{
		rpID:       ch.RPID,
		userHandle: bytes.Clone(ch.UserID),
		id:         bytes.Clone(result.CredentialID),
		credential: credential,
	})
	p.mu.Unlock()

	return result, nil
}

func (p *VirtualPlatform) Get(ctx context.Context, ch PreloginChallenge) (*AssertionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cred, ok := p.find(ch)
	if !ok {
		return nil, ErrNoCredentials
	}

	optionsJSON, err := ch.optionsJSON()
	if err != nil {
		return nil, err
	}
	options, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	rp := virtualwebauthn.RelyingParty{ID: ch.RPID, Origin: p.origin}
	authenticator := virtualwebauthn.NewAuthenticatorWithOptions(virtualwebauthn.AuthenticatorOptions{
		UserHandle: cred.userHandle,
	})
	authenticator.AddCredential(cred.credential)

	raw := virtualwebauthn.CreateAssertionResponse(rp, authenticator, cred.credential, *options)

	var car protocol.CredentialAssertionResponse
	if err := json.Unmarshal([]byte(raw), &car); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}

	return &AssertionResult{
		CredentialID:      car.RawID,
		ClientDataJSON:    car.AssertionResponse.ClientDataJSON,
		AuthenticatorData: car.AssertionResponse.AuthenticatorData,
		Signature:         car.AssertionResponse.Signature,
		UserHandle:        car.AssertionResponse.UserHandle,
	}, nil
}

// find returns the newest credential for the relying party that the
// challenge allows.
func (p *VirtualPlatform) find(ch PreloginChallenge) (virtualCredential, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.creds) - 1; i >= 0; i-- {
		c := p.creds[i]
		if c.rpID != ch.RPID {
			continue
		}
		if len(ch.AllowCredentials) > 0 && !slices.ContainsFunc(ch.AllowCredentials, func(id []byte) bool {
			return bytes.Equal(id, c.id)
		}) {
			continue
		}
		return c, true
	}
	return virtualCredential{}, false
}
