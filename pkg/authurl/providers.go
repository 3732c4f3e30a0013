package authurl

import (
	"net/url"
	"strings"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
)

// Provider identifies a built-in social login provider.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderFacebook  Provider = "facebook"
	ProviderGithub    Provider = "github"
	ProviderMicrosoft Provider = "microsoft"
	ProviderApple     Provider = "apple"
	ProviderLinkedIn  Provider = "linkedin"
	ProviderSlack     Provider = "slack"
)

// Descriptor is the static OAuth setup of a provider.
type Descriptor struct {
	Provider          Provider
	AuthorizeEndpoint string
	DefaultScopes     []string
	ResponseType      string
	ResponseMode      string
	RequiresPKCE      bool

	// PromptKey and PromptValue force the provider's consent or account
	// picker screen. Empty when the provider has none.
	PromptKey   string
	PromptValue string
}

var providers = map[Provider]Descriptor{
	ProviderGoogle: {
		Provider:          ProviderGoogle,
		AuthorizeEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		DefaultScopes:     []string{"openid", "email", "profile"},
		ResponseType:      "code",
		RequiresPKCE:      true,
		PromptKey:         "prompt",
		PromptValue:       "select_account",
	},
	ProviderFacebook: {
		Provider:          ProviderFacebook,
		AuthorizeEndpoint: "https://www.facebook.com/v10.0/dialog/oauth",
		DefaultScopes:     []string{"email"},
		ResponseType:      "code",
		PromptKey:         "auth_type",
		PromptValue:       "reauthenticate",
	},
	ProviderGithub: {
		Provider:          ProviderGithub,
		AuthorizeEndpoint: "https://github.com/login/oauth/authorize",
		DefaultScopes:     []string{"read:user", "user:email"},
		ResponseType:      "code",
		PromptKey:         "prompt",
		PromptValue:       "consent",
	},
	ProviderMicrosoft: {
		Provider:          ProviderMicrosoft,
		AuthorizeEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		DefaultScopes:     []string{"openid", "profile", "email"},
		ResponseType:      "code",
		ResponseMode:      "query",
		RequiresPKCE:      true,
		PromptKey:         "prompt",
		PromptValue:       "select_account",
	},
	ProviderApple: {
		Provider:          ProviderApple,
		AuthorizeEndpoint: "https://appleid.apple.com/auth/authorize",
		DefaultScopes:     []string{"openid", "name", "email"},
		ResponseType:      "code",
		ResponseMode:      "form_post",
	},
	ProviderLinkedIn: {
		Provider:          ProviderLinkedIn,
		AuthorizeEndpoint: "https://www.linkedin.com/oauth/v2/authorization",
		DefaultScopes:     []string{"r_liteprofile", "r_emailaddress"},
		ResponseType:      "code",
	},
	ProviderSlack: {
		Provider:          ProviderSlack,
		AuthorizeEndpoint: "https://slack.com/openid/connect/authorize",
		DefaultScopes:     []string{"openid", "profile", "email"},
		ResponseType:      "code",
	},
}

// Providers lists the built-in providers.
func Providers() []Provider {
	return []Provider{
		ProviderGoogle, ProviderFacebook, ProviderGithub, ProviderMicrosoft,
		ProviderApple, ProviderLinkedIn, ProviderSlack,
	}
}

// ProviderDetails returns the descriptor of p.
func ProviderDetails(p Provider) (Descriptor, error) {
	d, ok := providers[p]
	if !ok {
		return Descriptor{}, autherr.Configuration("provider details", "unknown provider %q", p)
	}
	d.DefaultScopes = append([]string(nil), d.DefaultScopes...)
	return d, nil
}

// MatchProvider finds the built-in provider whose authorize endpoint has the
// same host and path as u.
func MatchProvider(u *url.URL) (Descriptor, bool) {
	for _, p := range Providers() {
		d := providers[p]
		ep, err := url.Parse(d.AuthorizeEndpoint)
		if err != nil {
			continue
		}
		if strings.EqualFold(ep.Host, u.Host) && strings.TrimSuffix(ep.Path, "/") == strings.TrimSuffix(u.Path, "/") {
			return d, true
		}
	}
	return Descriptor{}, false
}

// mergeScopes joins defaults and additional scopes without duplicates.
// LinkedIn replaces its defaults when additional scopes are configured.
func mergeScopes(p Provider, defaults, additional []string) string {
	base := defaults
	if p == ProviderLinkedIn && len(additional) > 0 {
		base = nil
	}

	seen := make(map[string]struct{}, len(base)+len(additional))
	out := make([]string, 0, len(base)+len(additional))
	for _, list := range [][]string{base, additional} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
