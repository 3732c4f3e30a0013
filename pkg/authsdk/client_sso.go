package authsdk

import (
	"context"
	"net/http"
)

const (
	PathSocialLoginConfigs       = "/identity/resources/sso/v2"
	PathCustomSocialLoginConfigs = "/identity/resources/sso/custom/v1"
)

// SocialLoginConfigs returns the tenant's built-in social provider setup.
func (c *SDKClient) SocialLoginConfigs(ctx context.Context) ([]SocialLoginConfig, error) {
	var configs []SocialLoginConfig
	if err := c.do(ctx, "social login configs", http.MethodGet, PathSocialLoginConfigs, nil, "", &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// CustomSocialLoginConfigs returns tenant-defined OAuth providers.
func (c *SDKClient) CustomSocialLoginConfigs(ctx context.Context) ([]CustomSocialLoginConfig, error) {
	var resp CustomSocialLoginConfigsResponse
	if err := c.do(ctx, "custom social login configs", http.MethodGet, PathCustomSocialLoginConfigs, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Providers, nil
}
