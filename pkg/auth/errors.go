package auth

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/passkeys"
)

var (
	ErrStateMismatch       = errors.New("auth: callback does not match a pending login")
	ErrNonceMismatch       = errors.New("auth: id token nonce mismatch")
	ErrProviderUnavailable = errors.New("auth: provider not available")
)

func isMFA(err error) bool {
	var mfa *authsdk.MFARequiredError
	return errors.As(err, &mfa)
}

func isCanceled(err error) bool { return autherr.IsCanceled(err) }

func canceled(op string) error {
	return autherr.Authentication(op, autherr.ErrCanceled)
}

// classify makes sure err carries a failure kind, keeping any it already
// has.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, passkeys.ErrNoCredentials):
		return autherr.Authentication(op, err)
	case errors.Is(err, passkeys.ErrMalformedPayload), errors.Is(err, passkeys.ErrMalformedResult):
		return autherr.Decoding(op, err)
	case errors.Is(err, authurl.ErrInvalidCallback), errors.Is(err, authurl.ErrMissingCode),
		errors.Is(err, authurl.ErrInvalidState):
		return autherr.Authentication(op, err)
	}
	if autherr.KindOf(err) != autherr.KindUnknown || isCanceled(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return autherr.New(autherr.KindUnknown, op, err)
}

// providerError maps an error returned on the redirect. A denied consent is
// the user backing out.
func providerError(op string, perr *authurl.ProviderError) error {
	if perr.Code == authsdk.ErrorCodeAccessDenied {
		return canceled(op)
	}
	return autherr.Authentication(op, perr)
}
