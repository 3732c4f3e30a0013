package authsdk

// ============================================================================
// Error Response Types
// ============================================================================

// ErrorResponse represents a standard OAuth2 error response per RFC 6749.
// Client code should use the OAuth2Error type from errors.go instead.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ResourceErrorResponse is the error body of the identity resource endpoints.
type ResourceErrorResponse struct {
	Errors []string `json:"errors"`
}

// ============================================================================
// Token Types
// ============================================================================

// TokenRequest is the JSON body of POST /oauth/token.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id,omitempty"`
	Code         string `json:"code,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TokenResponse is returned by every endpoint that issues tokens.
type TokenResponse struct {
	// AccessToken is the JWT access token used to authenticate API requests
	AccessToken string `json:"access_token"`

	// RefreshToken is the opaque refresh token used to obtain new access tokens
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is the OpenID Connect ID token, when the openid scope was granted
	IDToken string `json:"id_token,omitempty"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token
	ExpiresIn int `json:"expires_in"`

	// MFA fields, set instead of tokens when a second factor is required
	MFARequired   bool     `json:"mfaRequired,omitempty"`
	MFAToken      string   `json:"mfaToken,omitempty"`
	MFAStrategies []string `json:"mfaStrategies,omitempty"`
}

// SilentAuthorizeRequest exchanges an externally obtained refresh token.
type SilentAuthorizeRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// MFAVerifyRequest submits a second factor for a pending MFA challenge.
type MFAVerifyRequest struct {
	MFAToken string `json:"mfaToken"`
	Value    string `json:"value"`
}

// ============================================================================
// User Types
// ============================================================================

type RoleResponse struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

type TenantResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
}

// UserResponse is the body of GET /identity/resources/users/v2/me.
type UserResponse struct {
	ID                string           `json:"id"`
	Sub               string           `json:"sub,omitempty"`
	Email             string           `json:"email"`
	Name              string           `json:"name"`
	ProfilePictureURL string           `json:"profilePictureUrl,omitempty"`
	Roles             []RoleResponse   `json:"roles,omitempty"`
	Permissions       []string         `json:"permissions,omitempty"`
	TenantID          string           `json:"tenantId"`
	TenantIDs         []string         `json:"tenantIds,omitempty"`
	Tenants           []TenantResponse `json:"tenants,omitempty"`
	ActiveTenant      *TenantResponse  `json:"activeTenant,omitempty"`
	Verified          bool             `json:"verified"`
	SuperUser         bool             `json:"superUser"`
}

// MeTenantsResponse is the body of GET /identity/resources/users/v3/me/tenants.
type MeTenantsResponse struct {
	Tenants      []TenantResponse `json:"tenants"`
	ActiveTenant *TenantResponse  `json:"activeTenant,omitempty"`
}

type SwitchTenantRequest struct {
	TenantID string `json:"tenantId"`
}

// ============================================================================
// Social Login Types
// ============================================================================

// SocialLoginConfig is the tenant's setup of one built-in social provider.
type SocialLoginConfig struct {
	Type             string   `json:"type"`
	Active           bool     `json:"active"`
	ClientID         string   `json:"clientId"`
	RedirectURL      string   `json:"redirectUrl,omitempty"`
	AuthorizationURL string   `json:"authorizationUrl,omitempty"`
	AdditionalScopes []string `json:"additionalScopes,omitempty"`
}

// CustomSocialLoginConfig is a tenant-defined OAuth provider.
type CustomSocialLoginConfig struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	Active           bool   `json:"active"`
	ClientID         string `json:"clientId"`
	AuthorizationURL string `json:"authorizationUrl"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
	Scopes           string `json:"scopes,omitempty"`
}

type CustomSocialLoginConfigsResponse struct {
	Providers []CustomSocialLoginConfig `json:"providers"`
}
