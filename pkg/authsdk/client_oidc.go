package authsdk

import (
	"context"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/coreos/go-oidc/v3/oidc"
)

const PathJWKS = "/.well-known/jwks.json"

// VerifyIDToken checks an ID token's signature against the region's JWKS,
// its issuer against BaseURL and its audience against ClientID.
func (c *SDKClient) VerifyIDToken(ctx context.Context, rawIDToken string) (*jwtx.Claims, error) {
	c.keySetOnce.Do(func() {
		keyCtx := context.Background()
		if c.HTTPClient != nil {
			keyCtx = oidc.ClientContext(keyCtx, c.HTTPClient)
		}
		c.keySet = oidc.NewRemoteKeySet(keyCtx, c.url(PathJWKS))
	})

	verifier := oidc.NewVerifier(c.BaseURL, c.keySet, &oidc.Config{
		ClientID:             c.ClientID,
		SupportedSigningAlgs: []string{oidc.ES256, oidc.RS256},
	})

	token, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, autherr.Authentication("verify id token", err)
	}

	var claims jwtx.Claims
	if err := token.Claims(&claims); err != nil {
		return nil, autherr.Decoding("verify id token", err)
	}

	return &claims, nil
}
