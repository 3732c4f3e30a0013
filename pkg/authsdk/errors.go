package authsdk

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
)

// ============================================================================
// OAuth2 Error Codes (RFC 6749)
// ============================================================================

const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidClient  = "invalid_client"
	ErrorCodeInvalidGrant   = "invalid_grant"
	ErrorCodeServerError    = "server_error"
	ErrorCodeInvalidToken   = "invalid_token"
	ErrorCodeMFARequired    = "mfa_required"
	ErrorCodeAccessDenied   = "access_denied"
)

// ============================================================================
// OAuth2Error
// ============================================================================

// OAuth2Error is a non-2xx response from the identity provider.
type OAuth2Error struct {
	// StatusCode is the HTTP status code of the response
	StatusCode int `json:"-"`

	// Code is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Kind classifies 5xx responses as network failures and everything else as
// authentication failures.
func (e *OAuth2Error) Kind() autherr.Kind {
	if e.StatusCode >= http.StatusInternalServerError {
		return autherr.KindNetwork
	}
	return autherr.KindAuthentication
}

// Is lets errors.Is match invalid_grant and invalid_token responses against
// autherr.ErrInvalidCredentials.
func (e *OAuth2Error) Is(target error) bool {
	if target != autherr.ErrInvalidCredentials {
		return false
	}
	return e.Code == ErrorCodeInvalidGrant || e.Code == ErrorCodeInvalidToken
}

// NewOAuth2Error creates a new OAuth2Error with the given status code, error code, and description.
func NewOAuth2Error(statusCode int, code, description string) *OAuth2Error {
	return &OAuth2Error{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// ============================================================================
// MFA Required
// ============================================================================

// MFARequiredError is returned when the user must complete a second factor
// before tokens are issued. It is an outcome the host continues from, not a
// plain failure.
type MFARequiredError struct {
	// MFAToken identifies the pending challenge when submitting the code
	MFAToken string `json:"mfaToken"`

	// Methods lists the available MFA methods (e.g., ["totp"])
	Methods []string `json:"mfaStrategies"`

	// RefreshToken is an optional interim refresh token
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (e *MFARequiredError) Error() string {
	return fmt.Sprintf("MFA required: available methods=%v", e.Methods)
}

func (e *MFARequiredError) Kind() autherr.Kind { return autherr.KindAuthentication }

func (e *MFARequiredError) Unwrap() error { return autherr.ErrMFARequired }

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into a typed error.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// MFA challenge (409 Conflict)
	if resp.StatusCode == http.StatusConflict {
		var mfaResp struct {
			Error        string   `json:"error"`
			MFAToken     string   `json:"mfaToken"`
			Methods      []string `json:"mfaStrategies"`
			RefreshToken string   `json:"refreshToken"`
		}
		if err := json.Unmarshal(body, &mfaResp); err == nil {
			if mfaResp.Error == ErrorCodeMFARequired && mfaResp.MFAToken != "" {
				return &MFARequiredError{
					MFAToken:     mfaResp.MFAToken,
					Methods:      mfaResp.Methods,
					RefreshToken: mfaResp.RefreshToken,
				}
			}
		}
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	// Identity resource endpoints report {"errors": ["..."]}
	var resErr ResourceErrorResponse
	if err := json.Unmarshal(body, &resErr); err == nil && len(resErr.Errors) > 0 {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        codeForStatus(resp.StatusCode),
			Description: resErr.Errors[0],
		}
	}

	return &OAuth2Error{
		StatusCode:  resp.StatusCode,
		Code:        codeForStatus(resp.StatusCode),
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorCodeInvalidToken
	case status == http.StatusForbidden:
		return ErrorCodeAccessDenied
	case status >= http.StatusInternalServerError:
		return ErrorCodeServerError
	default:
		return ErrorCodeInvalidRequest
	}
}
