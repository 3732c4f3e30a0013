package authsdk

import (
	"context"
	"net/http"
)

const (
	PathMe           = "/identity/resources/users/v2/me"
	PathMeTenants    = "/identity/resources/users/v3/me/tenants"
	PathSwitchTenant = "/identity/resources/users/v1/tenant"
)

// Me returns the user the access token was issued to.
func (c *SDKClient) Me(ctx context.Context, accessToken string) (*UserResponse, error) {
	var user UserResponse
	if err := c.do(ctx, "me", http.MethodGet, PathMe, nil, accessToken, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// MeTenants lists the tenants the user belongs to.
func (c *SDKClient) MeTenants(ctx context.Context, accessToken string) (*MeTenantsResponse, error) {
	var tenants MeTenantsResponse
	if err := c.do(ctx, "me tenants", http.MethodGet, PathMeTenants, nil, accessToken, &tenants); err != nil {
		return nil, err
	}
	return &tenants, nil
}

// SwitchTenant changes the user's active tenant. Tokens issued afterwards are
// scoped to it.
func (c *SDKClient) SwitchTenant(ctx context.Context, accessToken, tenantID string) error {
	return c.do(ctx, "switch tenant", http.MethodPut, PathSwitchTenant,
		SwitchTenantRequest{TenantID: tenantID}, accessToken, nil)
}
