package authsdk

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/config"
	"github.com/coreos/go-oidc/v3/oidc"
)

// SDKClient talks to one region of the identity provider. It never retries;
// callers decide how to react to the classified errors it returns.
type SDKClient struct {
	BaseURL       string
	ClientID      string
	ApplicationID string
	HTTPClient    *http.Client

	keySetOnce sync.Once
	keySet     oidc.KeySet
}

// NewSDKClient creates a client with a 10 second request timeout.
func NewSDKClient(baseURL, clientID string) *SDKClient {
	return &SDKClient{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		ClientID: clientID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewRegionClient creates a client for r. A nil hc uses the defaults of
// NewSDKClient.
func NewRegionClient(r config.Region, hc *http.Client) *SDKClient {
	c := NewSDKClient(r.BaseURL, r.ClientID)
	c.ApplicationID = r.ApplicationID
	if hc != nil {
		c.HTTPClient = hc
	}
	return c
}
