// Package authurl builds the authorization URLs the SDK presents to the user:
// the hosted login page, built-in social providers and tenant-defined custom
// providers.
package authurl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/cryptox"
	"github.com/aussiebroadwan/loginkit/pkg/idx"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"golang.org/x/oauth2"
)

const (
	PathAuthorize = "/oauth/authorize"

	// LegacySocialPrefix marks provider URLs served by the identity
	// provider's own redirect endpoint.
	LegacySocialPrefix = "/identity/resources/auth/v2/user/sso/default/"

	// SiteKeyCodeVerifier is where the hosted web surface keeps the PKCE
	// verifier for social logins.
	SiteKeyCodeVerifier = "code_verifier"
)

// HostedScopes are requested on every hosted login.
var HostedScopes = []string{"openid", "email", "profile", "offline_access"}

// ConfigSource loads the tenant's social login setup.
type ConfigSource interface {
	SocialLoginConfigs(ctx context.Context) ([]authsdk.SocialLoginConfig, error)
	CustomSocialLoginConfigs(ctx context.Context) ([]authsdk.CustomSocialLoginConfig, error)
}

type Options struct {
	BaseURL  string
	ClientID string
	AppID    string

	BundleID string
	Platform string

	// RedirectURI overrides "{bundleID}://{host}/{platform}/oauth/callback".
	RedirectURI string

	EnforceSocialPKCE bool

	Source   ConfigSource
	SiteData storage.SiteData
}

// HostedRequest describes one hosted login.
type HostedRequest struct {
	Action    Action
	LoginHint string

	// MaxAge and the multi-factor ACR are sent for step-up.
	MaxAge time.Duration
}

// AuthRequest is a built hosted authorization. Verifier and State must be
// kept until the callback arrives.
type AuthRequest struct {
	URL         string
	RedirectURI string
	State       string
	Verifier    string
	Nonce       string
	OAuthState  OAuthState
}

// SocialURL is a built provider authorization.
type SocialURL struct {
	URL      string
	Provider string
	State    string

	// Legacy is set when the tenant routes the provider through the
	// identity provider's redirect endpoint. The caller must open URL as a
	// plain redirect.
	Legacy bool
}

type Builder struct {
	opts    Options
	baseURL *url.URL

	mu           sync.Mutex
	social       map[string]authsdk.SocialLoginConfig
	custom       map[string]authsdk.CustomSocialLoginConfig
	socialLoaded bool
	customLoaded bool
}

// NewBuilder validates opts. A missing base URL or client id is a
// configuration error.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.ClientID == "" {
		return nil, autherr.Configuration("new builder", "client id is required")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, autherr.Configuration("new builder", "invalid base url %q", opts.BaseURL)
	}
	if opts.Platform == "" {
		opts.Platform = "go"
	}
	opts.BaseURL = base.String()

	return &Builder{opts: opts, baseURL: base}, nil
}

// Domain is the host whose site data the hosted login page owns.
func (b *Builder) Domain() string { return b.baseURL.Hostname() }

// RedirectURI returns the callback URI of hosted logins.
func (b *Builder) RedirectURI() string {
	if b.opts.RedirectURI != "" {
		return b.opts.RedirectURI
	}
	return fmt.Sprintf("%s://%s/%s/oauth/callback", b.opts.BundleID, b.baseURL.Host, b.opts.Platform)
}

func (b *Builder) newState(provider string, action Action) OAuthState {
	return OAuthState{
		Provider:  provider,
		AppID:     b.opts.AppID,
		Action:    action,
		BundleID:  b.opts.BundleID,
		Platform:  b.opts.Platform,
		RequestID: idx.NewLoginID().String(),
	}
}

// Hosted builds the hosted login URL with a fresh PKCE pair, nonce and state.
func (b *Builder) Hosted(req HostedRequest) (*AuthRequest, error) {
	if req.Action == "" {
		req.Action = ActionLogin
	}

	st := b.newState("", req.Action)
	state, err := st.Encode()
	if err != nil {
		return nil, err
	}

	nonce, err := cryptox.NewNonce()
	if err != nil {
		return nil, fmt.Errorf("authurl: nonce: %w", err)
	}

	pkce := cryptox.NewPKCE()
	redirect := b.RedirectURI()

	cfg := oauth2.Config{
		ClientID:    b.opts.ClientID,
		RedirectURL: redirect,
		Scopes:      HostedScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL: b.opts.BaseURL + PathAuthorize,
		},
	}

	params := []oauth2.AuthCodeOption{
		oauth2.S256ChallengeOption(pkce.Verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if req.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	if req.Action == ActionStepUp {
		params = append(params, oauth2.SetAuthURLParam("acr_values", jwtx.ACRMultiFactor))
		if req.MaxAge > 0 {
			params = append(params, oauth2.SetAuthURLParam("max_age", strconv.Itoa(int(req.MaxAge.Seconds()))))
		}
	}

	return &AuthRequest{
		URL:         cfg.AuthCodeURL(state, params...),
		RedirectURI: redirect,
		State:       state,
		Verifier:    pkce.Verifier,
		Nonce:       nonce,
		OAuthState:  st,
	}, nil
}

// Social builds the authorize URL of a built-in provider. An unknown or
// inactive provider yields ok=false and no error.
func (b *Builder) Social(ctx context.Context, provider Provider, action Action) (*SocialURL, bool, error) {
	desc, known := providers[provider]
	if !known {
		return nil, false, nil
	}

	cfg, ok, err := b.socialConfig(ctx, string(provider))
	if err != nil || !ok || !cfg.Active {
		return nil, false, err
	}

	if cfg.AuthorizationURL != "" && strings.HasPrefix(cfg.AuthorizationURL, LegacySocialPrefix) {
		return &SocialURL{
			URL:      b.opts.BaseURL + cfg.AuthorizationURL,
			Provider: string(provider),
			Legacy:   true,
		}, true, nil
	}

	endpoint := desc.AuthorizeEndpoint
	if cfg.AuthorizationURL != "" {
		endpoint = cfg.AuthorizationURL
	}
	u, err := parseAbsolute("social url", endpoint)
	if err != nil {
		return nil, false, err
	}

	st := b.newState(string(provider), action)
	state, err := st.Encode()
	if err != nil {
		return nil, false, err
	}

	redirect := cfg.RedirectURL
	if redirect == "" {
		redirect = b.opts.BaseURL + LegacySocialPrefix + string(provider) + "/callback"
	}

	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirect)
	q.Set("response_type", desc.ResponseType)
	if desc.ResponseMode != "" {
		q.Set("response_mode", desc.ResponseMode)
	}
	q.Set("scope", mergeScopes(provider, desc.DefaultScopes, cfg.AdditionalScopes))
	q.Set("state", state)
	if desc.PromptKey != "" {
		q.Set(desc.PromptKey, desc.PromptValue)
	}

	if desc.RequiresPKCE && b.opts.EnforceSocialPKCE {
		pkce, err := b.socialPKCE(ctx)
		if err != nil {
			return nil, false, err
		}
		q.Set("code_challenge", pkce.Challenge)
		q.Set("code_challenge_method", pkce.Method)
	}

	u.RawQuery = q.Encode()
	return &SocialURL{URL: u.String(), Provider: string(provider), State: state}, true, nil
}

// CustomSocial builds the authorize URL of a tenant-defined provider. Query
// parameters already on the provider's URL are kept.
func (b *Builder) CustomSocial(ctx context.Context, id string, action Action) (*SocialURL, bool, error) {
	cfg, ok, err := b.customConfig(ctx, id)
	if err != nil || !ok || !cfg.Active {
		return nil, false, err
	}

	u, err := parseAbsolute("custom social url", cfg.AuthorizationURL)
	if err != nil {
		return nil, false, err
	}

	st := b.newState(id, action)
	state, err := st.Encode()
	if err != nil {
		return nil, false, err
	}

	redirect := cfg.RedirectURL
	if redirect == "" {
		redirect = b.opts.BaseURL + "/identity/resources/auth/v2/user/sso/custom/" + url.PathEscape(id) + "/callback"
	}

	q := u.Query()
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirect)
	q.Set("response_type", "code")
	if scope := mergeScopes("", strings.Fields(cfg.Scopes), nil); scope != "" {
		q.Set("scope", scope)
	}
	q.Set("state", state)
	if desc, ok := MatchProvider(u); ok && desc.PromptKey != "" {
		q.Set(desc.PromptKey, desc.PromptValue)
	}

	u.RawQuery = q.Encode()
	return &SocialURL{URL: u.String(), Provider: id, State: state}, true, nil
}

// ReloadSocialConfig drops the cached provider setup and fetches it again.
func (b *Builder) ReloadSocialConfig(ctx context.Context) error {
	b.mu.Lock()
	b.socialLoaded, b.customLoaded = false, false
	b.social, b.custom = nil, nil
	b.mu.Unlock()

	if _, _, err := b.socialConfig(ctx, ""); err != nil {
		return err
	}
	_, _, err := b.customConfig(ctx, "")
	return err
}

func (b *Builder) socialConfig(ctx context.Context, provider string) (authsdk.SocialLoginConfig, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.socialLoaded {
		if b.opts.Source == nil {
			return authsdk.SocialLoginConfig{}, false, autherr.Configuration("social config", "no config source")
		}
		configs, err := b.opts.Source.SocialLoginConfigs(ctx)
		if err != nil {
			return authsdk.SocialLoginConfig{}, false, err
		}
		b.social = make(map[string]authsdk.SocialLoginConfig, len(configs))
		for _, c := range configs {
			b.social[strings.ToLower(c.Type)] = c
		}
		b.socialLoaded = true
	}

	c, ok := b.social[provider]
	return c, ok, nil
}

func (b *Builder) customConfig(ctx context.Context, id string) (authsdk.CustomSocialLoginConfig, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.customLoaded {
		if b.opts.Source == nil {
			return authsdk.CustomSocialLoginConfig{}, false, autherr.Configuration("custom social config", "no config source")
		}
		configs, err := b.opts.Source.CustomSocialLoginConfigs(ctx)
		if err != nil {
			return authsdk.CustomSocialLoginConfig{}, false, err
		}
		b.custom = make(map[string]authsdk.CustomSocialLoginConfig, len(configs))
		for _, c := range configs {
			b.custom[c.ID] = c
		}
		b.customLoaded = true
	}

	c, ok := b.custom[id]
	return c, ok, nil
}

// socialPKCE derives the challenge from the verifier the hosted page stored,
// generating and storing one when absent.
func (b *Builder) socialPKCE(ctx context.Context) (cryptox.PKCE, error) {
	if b.opts.SiteData == nil {
		return cryptox.PKCE{}, autherr.Configuration("social pkce", "site data is required when social pkce is enforced")
	}

	verifier, err := b.opts.SiteData.Get(ctx, b.Domain(), SiteKeyCodeVerifier)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return cryptox.PKCE{}, fmt.Errorf("authurl: read code verifier: %w", err)
	}
	if verifier != "" {
		return cryptox.PKCEFromVerifier(verifier), nil
	}

	pkce := cryptox.NewPKCE()
	if err := b.opts.SiteData.Set(ctx, b.Domain(), SiteKeyCodeVerifier, pkce.Verifier); err != nil {
		return cryptox.PKCE{}, fmt.Errorf("authurl: store code verifier: %w", err)
	}
	return pkce, nil
}

func parseAbsolute(op, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, autherr.Configuration(op, "malformed authorize url: %v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, autherr.Configuration(op, "authorize url %q is not absolute", raw)
	}
	return u, nil
}
