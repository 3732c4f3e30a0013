package authurl_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	social []authsdk.SocialLoginConfig
	custom []authsdk.CustomSocialLoginConfig
	err    error

	socialCalls atomic.Int32
	customCalls atomic.Int32
}

func (f *fakeSource) SocialLoginConfigs(context.Context) ([]authsdk.SocialLoginConfig, error) {
	f.socialCalls.Add(1)
	return f.social, f.err
}

func (f *fakeSource) CustomSocialLoginConfigs(context.Context) ([]authsdk.CustomSocialLoginConfig, error) {
	f.customCalls.Add(1)
	return f.custom, f.err
}

func newBuilder(t *testing.T, src *fakeSource, mutate func(*authurl.Options)) *authurl.Builder {
	t.Helper()

	opts := authurl.Options{
		BaseURL:  "https://auth.example.com",
		ClientID: "client-1",
		AppID:    "app-1",
		BundleID: "com.example.app",
		Platform: "go",
		Source:   src,
		SiteData: storage.NewMemorySiteData(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	b, err := authurl.NewBuilder(opts)
	require.NoError(t, err)
	return b
}

func query(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}

func TestNewBuilderRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := authurl.NewBuilder(authurl.Options{BaseURL: "https://auth.example.com"})
	require.True(t, autherr.IsConfiguration(err))

	_, err = authurl.NewBuilder(authurl.Options{BaseURL: "not a url", ClientID: "c"})
	require.True(t, autherr.IsConfiguration(err))
}

func TestHosted(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, &fakeSource{}, nil)

	req, err := b.Hosted(authurl.HostedRequest{LoginHint: "a@example.com"})
	require.NoError(t, err)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	require.Equal(t, "auth.example.com", u.Host)
	require.Equal(t, authurl.PathAuthorize, u.Path)

	q := u.Query()
	require.Equal(t, "client-1", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "com.example.app://auth.example.com/go/oauth/callback", q.Get("redirect_uri"))
	require.Equal(t, "openid email profile offline_access", q.Get("scope"))
	require.Equal(t, req.Nonce, q.Get("nonce"))
	require.Equal(t, "a@example.com", q.Get("login_hint"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))

	sum := sha256.Sum256([]byte(req.Verifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))

	require.Equal(t, req.State, q.Get("state"))
	st, err := authurl.ParseState(q.Get("state"))
	require.NoError(t, err)
	require.Equal(t, authurl.ActionLogin, st.Action)
	require.Equal(t, "app-1", st.AppID)
	require.Equal(t, "com.example.app", st.BundleID)
	require.NotEmpty(t, st.RequestID)

	require.Empty(t, q.Get("acr_values"))
}

func TestHostedStepUp(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, &fakeSource{}, nil)

	req, err := b.Hosted(authurl.HostedRequest{Action: authurl.ActionStepUp, MaxAge: 5 * time.Minute})
	require.NoError(t, err)

	q := query(t, req.URL)
	require.Equal(t, jwtx.ACRMultiFactor, q.Get("acr_values"))
	require.Equal(t, "300", q.Get("max_age"))
	require.Equal(t, authurl.ActionStepUp, req.OAuthState.Action)
}

func TestHostedRedirectOverride(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, &fakeSource{}, func(o *authurl.Options) {
		o.RedirectURI = "http://127.0.0.1:8765/callback"
	})

	req, err := b.Hosted(authurl.HostedRequest{})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8765/callback", query(t, req.URL).Get("redirect_uri"))
}

func TestHostedStatesAreUnique(t *testing.T) {
	t.Parallel()

	b := newBuilder(t, &fakeSource{}, nil)
	a, err := b.Hosted(authurl.HostedRequest{})
	require.NoError(t, err)
	c, err := b.Hosted(authurl.HostedRequest{})
	require.NoError(t, err)

	require.NotEqual(t, a.State, c.State)
	require.NotEqual(t, a.Verifier, c.Verifier)
}

func TestSocialPKCEFollowsEnforcement(t *testing.T) {
	t.Parallel()

	src := &fakeSource{social: []authsdk.SocialLoginConfig{
		{Type: "google", Active: true, ClientID: "g-client"},
	}}

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()

		b := newBuilder(t, src, nil)
		res, ok, err := b.Social(context.Background(), authurl.ProviderGoogle, authurl.ActionLogin)
		require.NoError(t, err)
		require.True(t, ok)

		q := query(t, res.URL)
		require.False(t, q.Has("code_challenge"))
		require.False(t, q.Has("code_challenge_method"))
	})

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()

		site := storage.NewMemorySiteData()
		require.NoError(t, site.Set(context.Background(), "auth.example.com", authurl.SiteKeyCodeVerifier, "stored-verifier"))

		b := newBuilder(t, src, func(o *authurl.Options) {
			o.EnforceSocialPKCE = true
			o.SiteData = site
		})
		res, ok, err := b.Social(context.Background(), authurl.ProviderGoogle, authurl.ActionLogin)
		require.NoError(t, err)
		require.True(t, ok)

		sum := sha256.Sum256([]byte("stored-verifier"))
		q := query(t, res.URL)
		require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), q.Get("code_challenge"))
		require.Equal(t, "S256", q.Get("code_challenge_method"))
	})

	t.Run("enabled generates verifier", func(t *testing.T) {
		t.Parallel()

		site := storage.NewMemorySiteData()
		b := newBuilder(t, src, func(o *authurl.Options) {
			o.EnforceSocialPKCE = true
			o.SiteData = site
		})
		res, _, err := b.Social(context.Background(), authurl.ProviderGoogle, authurl.ActionLogin)
		require.NoError(t, err)

		verifier, err := site.Get(context.Background(), "auth.example.com", authurl.SiteKeyCodeVerifier)
		require.NoError(t, err)
		sum := sha256.Sum256([]byte(verifier))
		require.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), query(t, res.URL).Get("code_challenge"))
	})
}

func TestSocialPKCEIgnoredWhenProviderDoesNotRequireIt(t *testing.T) {
	t.Parallel()

	src := &fakeSource{social: []authsdk.SocialLoginConfig{
		{Type: "github", Active: true, ClientID: "gh"},
	}}
	b := newBuilder(t, src, func(o *authurl.Options) { o.EnforceSocialPKCE = true })

	res, ok, err := b.Social(context.Background(), authurl.ProviderGithub, authurl.ActionLogin)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, query(t, res.URL).Has("code_challenge"))
}

func TestSocialScopes(t *testing.T) {
	t.Parallel()

	extra := []string{"r_basicprofile"}
	src := &fakeSource{social: []authsdk.SocialLoginConfig{
		{Type: "linkedin", Active: true, ClientID: "li", AdditionalScopes: extra},
		{Type: "google", Active: true, ClientID: "g", AdditionalScopes: append(extra, "email")},
		{Type: "slack", Active: true, ClientID: "s"},
	}}
	b := newBuilder(t, src, nil)

	tests := []struct {
		provider authurl.Provider
		want     string
	}{
		{authurl.ProviderLinkedIn, "r_basicprofile"},
		{authurl.ProviderGoogle, "openid email profile r_basicprofile"},
		{authurl.ProviderSlack, "openid profile email"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			res, ok, err := b.Social(context.Background(), tt.provider, authurl.ActionLogin)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, tt.want, query(t, res.URL).Get("scope"))
		})
	}
}

func TestSocialParameters(t *testing.T) {
	t.Parallel()

	src := &fakeSource{social: []authsdk.SocialLoginConfig{
		{Type: "microsoft", Active: true, ClientID: "ms"},
	}}
	b := newBuilder(t, src, nil)

	res, ok, err := b.Social(context.Background(), authurl.ProviderMicrosoft, authurl.ActionLink)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, res.Legacy)

	u, err := url.Parse(res.URL)
	require.NoError(t, err)
	require.Equal(t, "login.microsoftonline.com", u.Host)

	q := u.Query()
	require.Equal(t, "ms", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Equal(t, "select_account", q.Get("prompt"))
	require.Equal(t, "https://auth.example.com"+authurl.LegacySocialPrefix+"microsoft/callback", q.Get("redirect_uri"))

	st, err := authurl.ParseState(q.Get("state"))
	require.NoError(t, err)
	require.Equal(t, "microsoft", st.Provider)
	require.Equal(t, authurl.ActionLink, st.Action)
}

func TestSocialLegacy(t *testing.T) {
	t.Parallel()

	src := &fakeSource{social: []authsdk.SocialLoginConfig{
		{Type: "facebook", Active: true, AuthorizationURL: authurl.LegacySocialPrefix + "facebook/prelogin"},
	}}
	b := newBuilder(t, src, nil)

	res, ok, err := b.Social(context.Background(), authurl.ProviderFacebook, authurl.ActionLogin)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, res.Legacy)
	require.Equal(t, "https://auth.example.com"+authurl.LegacySocialPrefix+"facebook/prelogin", res.URL)
}

func TestSocialUnavailable(t *testing.T) {
	t.Parallel()

	src := &fakeSource{social: []authsdk.SocialLoginConfig{
		{Type: "apple", Active: false, ClientID: "a"},
	}}
	b := newBuilder(t, src, nil)

	res, ok, err := b.Social(context.Background(), authurl.ProviderApple, authurl.ActionLogin)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, res)

	res, ok, err = b.Social(context.Background(), authurl.ProviderSlack, authurl.ActionLogin)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, res)

	res, ok, err = b.Social(context.Background(), authurl.Provider("myspace"), authurl.ActionLogin)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, res)

	// Configs are fetched once and cached.
	require.Equal(t, int32(1), src.socialCalls.Load())
}

func TestSocialConfigErrorIsNotCached(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: autherr.Network("social login configs", errors.New("reset"))}
	b := newBuilder(t, src, nil)

	_, _, err := b.Social(context.Background(), authurl.ProviderGoogle, authurl.ActionLogin)
	require.True(t, autherr.IsNetwork(err))

	_, _, err = b.Social(context.Background(), authurl.ProviderGoogle, authurl.ActionLogin)
	require.Error(t, err)
	require.Equal(t, int32(2), src.socialCalls.Load())
}

func TestReloadSocialConfig(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	b := newBuilder(t, src, nil)

	require.NoError(t, b.ReloadSocialConfig(context.Background()))
	require.NoError(t, b.ReloadSocialConfig(context.Background()))
	require.Equal(t, int32(2), src.socialCalls.Load())
	require.Equal(t, int32(2), src.customCalls.Load())
}

func TestCustomSocial(t *testing.T) {
	t.Parallel()

	src := &fakeSource{custom: []authsdk.CustomSocialLoginConfig{
		{
			ID:               "okta",
			Active:           true,
			ClientID:         "okta-client",
			AuthorizationURL: "https://example.okta.com/oauth2/v1/authorize?idp=abc&client_id=stale",
			Scopes:           "openid email openid",
		},
		{
			ID:               "corp-google",
			Active:           true,
			ClientID:         "cg",
			AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth",
		},
		{ID: "broken", Active: true, AuthorizationURL: "/relative/path"},
		{ID: "off", Active: false, AuthorizationURL: "https://x.example.com/auth"},
	}}
	b := newBuilder(t, src, nil)
	ctx := context.Background()

	res, ok, err := b.CustomSocial(ctx, "okta", authurl.ActionLogin)
	require.NoError(t, err)
	require.True(t, ok)
	q := query(t, res.URL)
	require.Equal(t, "abc", q.Get("idp"))
	require.Equal(t, "okta-client", q.Get("client_id"))
	require.Equal(t, "openid email", q.Get("scope"))
	require.False(t, q.Has("prompt"))
	require.True(t, strings.HasPrefix(res.URL, "https://example.okta.com/oauth2/v1/authorize?"))

	res, ok, err = b.CustomSocial(ctx, "corp-google", authurl.ActionLogin)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "select_account", query(t, res.URL).Get("prompt"))

	_, _, err = b.CustomSocial(ctx, "broken", authurl.ActionLogin)
	require.True(t, autherr.IsConfiguration(err))

	_, ok, err = b.CustomSocial(ctx, "off", authurl.ActionLogin)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = b.CustomSocial(ctx, "missing", authurl.ActionLogin)
	require.NoError(t, err)
	require.False(t, ok)
}
