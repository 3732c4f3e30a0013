package passkeys

import (
	"encoding/json"
	"fmt"
	"time"
)

// Options arrive as WebAuthn JSON, either from the identity provider or from
// the embedded web surface. Fields are decoded one by one so a missing or
// malformed field names itself in the error.

type descriptorJSON struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

type credParamJSON struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

type requestOptionsJSON struct {
	Challenge        string           `json:"challenge"`
	RPID             string           `json:"rpId"`
	Timeout          int64            `json:"timeout,omitempty"`
	UserVerification string           `json:"userVerification,omitempty"`
	AllowCredentials []descriptorJSON `json:"allowCredentials,omitempty"`
}

type creationOptionsJSON struct {
	Challenge string `json:"challenge"`
	RP        struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"rp"`
	User struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"user"`
	PubKeyCredParams   []credParamJSON  `json:"pubKeyCredParams,omitempty"`
	Timeout            int64            `json:"timeout,omitempty"`
	ExcludeCredentials []descriptorJSON `json:"excludeCredentials,omitempty"`
}

// unwrapPublicKey accepts both {"publicKey": {...}} and the bare options.
func unwrapPublicKey(raw []byte) ([]byte, error) {
	var wrapper struct {
		PublicKey json.RawMessage `json:"publicKey"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(wrapper.PublicKey) > 0 {
		return wrapper.PublicKey, nil
	}
	return raw, nil
}

// ParseRequestOptions decodes assertion options.
func ParseRequestOptions(raw []byte) (PreloginChallenge, error) {
	inner, err := unwrapPublicKey(raw)
	if err != nil {
		return PreloginChallenge{}, err
	}

	var o requestOptionsJSON
	if err := json.Unmarshal(inner, &o); err != nil {
		return PreloginChallenge{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	challenge, err := decodeField("challenge", o.Challenge)
	if err != nil {
		return PreloginChallenge{}, err
	}

	out := PreloginChallenge{
		Challenge:        challenge,
		RPID:             o.RPID,
		Timeout:          time.Duration(o.Timeout) * time.Millisecond,
		UserVerification: o.UserVerification,
	}
	for i, c := range o.AllowCredentials {
		id, err := decodeField(fmt.Sprintf("allowCredentials[%d].id", i), c.ID)
		if err != nil {
			return PreloginChallenge{}, err
		}
		out.AllowCredentials = append(out.AllowCredentials, id)
	}

	return out, nil
}

// ParseCreationOptions decodes registration options.
func ParseCreationOptions(raw []byte) (RegistrationChallenge, error) {
	inner, err := unwrapPublicKey(raw)
	if err != nil {
		return RegistrationChallenge{}, err
	}

	var o creationOptionsJSON
	if err := json.Unmarshal(inner, &o); err != nil {
		return RegistrationChallenge{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	challenge, err := decodeField("challenge", o.Challenge)
	if err != nil {
		return RegistrationChallenge{}, err
	}
	userID, err := decodeField("user.id", o.User.ID)
	if err != nil {
		return RegistrationChallenge{}, err
	}
	if o.RP.ID == "" {
		return RegistrationChallenge{}, fmt.Errorf("%w: missing rp.id", ErrMalformedPayload)
	}

	out := RegistrationChallenge{
		Challenge:       challenge,
		RPID:            o.RP.ID,
		RPName:          o.RP.Name,
		UserID:          userID,
		UserName:        o.User.Name,
		UserDisplayName: o.User.DisplayName,
		Timeout:         time.Duration(o.Timeout) * time.Millisecond,
	}
	for i, c := range o.ExcludeCredentials {
		id, err := decodeField(fmt.Sprintf("excludeCredentials[%d].id", i), c.ID)
		if err != nil {
			return RegistrationChallenge{}, err
		}
		out.ExcludeCredentials = append(out.ExcludeCredentials, id)
	}

	return out, nil
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedPayload, name)
	}
	b, err := Decode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
	}
	return b, nil
}

// optionsJSON is the inverse of ParseRequestOptions.
func (c PreloginChallenge) optionsJSON() ([]byte, error) {
	o := requestOptionsJSON{
		Challenge:        Encode(c.Challenge),
		RPID:             c.RPID,
		Timeout:          c.Timeout.Milliseconds(),
		UserVerification: c.UserVerification,
	}
	for _, id := range c.AllowCredentials {
		o.AllowCredentials = append(o.AllowCredentials, descriptorJSON{ID: Encode(id), Type: "public-key"})
	}
	return json.Marshal(o)
}

// optionsJSON is the inverse of ParseCreationOptions.
func (c RegistrationChallenge) optionsJSON() ([]byte, error) {
	var o creationOptionsJSON
	o.Challenge = Encode(c.Challenge)
	o.RP.ID = c.RPID
	o.RP.Name = c.RPName
	o.User.ID = Encode(c.UserID)
	o.User.Name = c.UserName
	o.User.DisplayName = c.UserDisplayName
	o.Timeout = c.Timeout.Milliseconds()
	o.PubKeyCredParams = []credParamJSON{{Type: "public-key", Alg: -7}}
	for _, id := range c.ExcludeCredentials {
		o.ExcludeCredentials = append(o.ExcludeCredentials, descriptorJSON{ID: Encode(id), Type: "public-key"})
	}
	return json.Marshal(o)
}
