package passkeys

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Authenticator data flags (WebAuthn §6.1).
const (
	FlagUserPresent      byte = 0x01
	FlagUserVerified     byte = 0x04
	FlagAttestedCredData byte = 0x40
)

// Attestation is the decoded attestation object of a registration.
type Attestation struct {
	Format       string
	RPIDHash     []byte
	Flags        byte
	SignCount    uint32
	AAGUID       []byte
	CredentialID []byte

	// PublicKey is the COSE encoded credential public key.
	PublicKey cbor.RawMessage
}

type attestationObject struct {
	Fmt      string          `cbor:"fmt"`
	AttStmt  cbor.RawMessage `cbor:"attStmt"`
	AuthData []byte          `cbor:"authData"`
}

// DecodeAttestation parses a CBOR attestation object and its authenticator
// data. Signatures are not verified.
func DecodeAttestation(raw []byte) (*Attestation, error) {
	var obj attestationObject
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: attestation object: %v", ErrMalformedResult, err)
	}

	ad := obj.AuthData
	// rpIdHash(32) flags(1) signCount(4)
	if len(ad) < 37 {
		return nil, fmt.Errorf("%w: authenticator data too short", ErrMalformedResult)
	}

	att := &Attestation{
		Format:    obj.Fmt,
		RPIDHash:  ad[:32],
		Flags:     ad[32],
		SignCount: binary.BigEndian.Uint32(ad[33:37]),
	}

	if att.Flags&FlagAttestedCredData == 0 {
		return nil, fmt.Errorf("%w: no attested credential data", ErrMalformedResult)
	}

	// aaguid(16) credIdLen(2) credId credentialPublicKey
	rest := ad[37:]
	if len(rest) < 18 {
		return nil, fmt.Errorf("%w: attested credential data too short", ErrMalformedResult)
	}
	att.AAGUID = rest[:16]
	idLen := int(binary.BigEndian.Uint16(rest[16:18]))
	rest = rest[18:]
	if len(rest) < idLen {
		return nil, fmt.Errorf("%w: credential id overruns authenticator data", ErrMalformedResult)
	}
	att.CredentialID = rest[:idLen]

	// Extensions may follow the key; decode only the first item.
	var key cbor.RawMessage
	if err := cbor.NewDecoder(bytes.NewReader(rest[idLen:])).Decode(&key); err != nil {
		return nil, fmt.Errorf("%w: credential public key: %v", ErrMalformedResult, err)
	}
	att.PublicKey = key

	return att, nil
}
