package authsdk

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
)

const (
	PathToken           = "/oauth/token"
	PathAuthorizeSilent = "/oauth/authorize/silent"
	PathLogout          = "/identity/resources/auth/v1/logout"
	PathMFAVerify       = "/identity/resources/auth/v1/user/mfa/verify"
)

// ExchangeCode redeems an authorization code obtained through the hosted
// login flow.
func (c *SDKClient) ExchangeCode(
	ctx context.Context,
	code, redirectURI, codeVerifier string,
) (*TokenResponse, error) {
	return c.requestToken(ctx, "exchange code", PathToken, TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: codeVerifier,
	})
}

// RefreshToken requests new tokens using a refresh token.
func (c *SDKClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.requestToken(ctx, "refresh token", PathToken, TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		RefreshToken: refreshToken,
	})
}

// AuthorizeSilent exchanges a refresh token obtained outside the SDK, such as
// after sign-up, for a session.
func (c *SDKClient) AuthorizeSilent(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return c.requestToken(ctx, "authorize silent", PathAuthorizeSilent, SilentAuthorizeRequest{
		RefreshToken: refreshToken,
	})
}

// VerifyMFA completes a pending MFA challenge with a one-time code.
func (c *SDKClient) VerifyMFA(ctx context.Context, mfaToken, code string) (*TokenResponse, error) {
	return c.requestToken(ctx, "verify mfa", PathMFAVerify, MFAVerifyRequest{
		MFAToken: mfaToken,
		Value:    code,
	})
}

// Logout revokes the session on the server.
func (c *SDKClient) Logout(ctx context.Context, accessToken, refreshToken string) error {
	return c.do(ctx, "logout", http.MethodPost, PathLogout,
		LogoutRequest{RefreshToken: refreshToken}, accessToken, nil)
}

// requestToken posts to a token issuing endpoint. A 200 response that asks
// for a second factor is returned as *MFARequiredError.
func (c *SDKClient) requestToken(ctx context.Context, op, path string, body any) (*TokenResponse, error) {
	var tokenResp TokenResponse
	if err := c.do(ctx, op, http.MethodPost, path, body, "", &tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.MFARequired {
		return nil, &MFARequiredError{
			MFAToken:     tokenResp.MFAToken,
			Methods:      tokenResp.MFAStrategies,
			RefreshToken: tokenResp.RefreshToken,
		}
	}

	if tokenResp.AccessToken == "" {
		return nil, autherr.Decoding(op, errors.New("response carries no access token"))
	}

	return &tokenResp, nil
}
