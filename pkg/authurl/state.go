package authurl

import (
	"encoding/json"
	"fmt"
)

// Action tells the callback handler what the authorization was for.
type Action string

const (
	ActionLogin  Action = "login"
	ActionLink   Action = "link"
	ActionStepUp Action = "stepUp"
)

// OAuthState travels through the provider in the state parameter and comes
// back unmodified on the callback.
type OAuthState struct {
	Provider string `json:"provider,omitempty"`
	AppID    string `json:"appId,omitempty"`
	Action   Action `json:"action"`
	BundleID string `json:"bundleId,omitempty"`
	Platform string `json:"platform,omitempty"`

	// RequestID makes every state unique so a callback can be matched to
	// the authorization that produced it.
	RequestID string `json:"requestId,omitempty"`
}

// Encode returns the JSON form used as the state parameter.
func (s OAuthState) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("authurl: encode state: %w", err)
	}
	return string(raw), nil
}

// ParseState decodes a state parameter produced by Encode.
func ParseState(raw string) (*OAuthState, error) {
	var s OAuthState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	switch s.Action {
	case ActionLogin, ActionLink, ActionStepUp:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidState, s.Action)
	}
	return &s, nil
}
