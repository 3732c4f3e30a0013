package authurl

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidState    = errors.New("authurl: invalid state")
	ErrMissingCode     = errors.New("authurl: missing authorization code")
	ErrInvalidCallback = errors.New("authurl: invalid callback url")
)

// Callback is the outcome of an authorization redirect.
type Callback struct {
	Code  string
	State string
}

// ProviderError is an error reported by the provider on the redirect.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("authorization failed: %s", e.Code)
	}
	return fmt.Sprintf("authorization failed: %s: %s", e.Code, e.Description)
}

// ParseCallback extracts the code and state from a redirect URL. The state is
// returned exactly as received. A provider error comes back as
// *ProviderError alongside whatever state was present.
func ParseCallback(callbackURL string) (*Callback, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	query := u.Query()
	// Some providers answer in the fragment (response_mode=fragment)
	if query.Get("code") == "" && query.Get("error") == "" && u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			query = frag
		}
	}

	cb := &Callback{
		Code:  query.Get("code"),
		State: query.Get("state"),
	}

	if errCode := query.Get("error"); errCode != "" {
		return cb, &ProviderError{
			Code:        errCode,
			Description: query.Get("error_description"),
		}
	}

	if cb.Code == "" {
		return cb, ErrMissingCode
	}

	return cb, nil
}
