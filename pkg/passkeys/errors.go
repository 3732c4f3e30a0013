package passkeys

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
)

var (
	// ErrNoCredentials is reported by a platform that holds no credential
	// for the relying party.
	ErrNoCredentials = errors.New("passkeys: no credentials available")

	// ErrCeremonySuperseded is returned to the caller of a ceremony that was
	// replaced by a newer one.
	ErrCeremonySuperseded = fmt.Errorf("passkeys: ceremony superseded: %w", autherr.ErrCanceled)

	ErrMalformedPayload = errors.New("passkeys: malformed payload")
	ErrMalformedResult  = errors.New("passkeys: malformed platform result")
	ErrUnknownAction    = errors.New("passkeys: unknown action")
)

// retryable reports whether a login attempt may be repeated.
func retryable(err error) bool {
	if errors.Is(err, ErrCeremonySuperseded) {
		return false
	}
	return errors.Is(err, ErrNoCredentials) || errors.Is(err, autherr.ErrCanceled)
}
