package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/idx"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
)

// LoginOptions tune a hosted login.
type LoginOptions struct {
	// LoginHint pre-fills the user name on the hosted page.
	LoginHint string
}

// pendingAuth is a browser authorization waiting for its callback. It
// resolves exactly once.
type pendingAuth struct {
	id          idx.ID
	method      string
	action      authurl.Action
	state       string
	verifier    string
	redirectURI string
	nonce       string
	startedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}
	user *session.Identity
	err  error
}

func (p *pendingAuth) resolve(user *session.Identity, err error) {
	p.once.Do(func() {
		p.user, p.err = user, err
		p.cancel()
		close(p.done)
	})
}

// matches reports whether a callback state belongs to p. Legacy social
// redirects carry no state of ours.
func (p *pendingAuth) matches(state string) bool {
	return p.state == "" || p.state == state
}

// beginPending records a new pending authorization. A previous one is
// cancelled and its waiter gets autherr.ErrCanceled.
func (m *Manager) beginPending(ctx context.Context, p *pendingAuth) *pendingAuth {
	p.id = idx.NewLoginID()
	p.startedAt = m.now()
	p.done = make(chan struct{})
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	prev := m.pending
	m.pending = p
	m.mu.Unlock()

	if prev != nil {
		slogFrom(ctx).DebugContext(ctx, "pending login replaced", "login_id", prev.id, "by", p.id)
		prev.resolve(nil, canceled("login"))
	}
	return p
}

// claimPending removes p if it is still the pending authorization.
func (m *Manager) claimPending(p *pendingAuth) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != p {
		return false
	}
	m.pending = nil
	return true
}

func (m *Manager) pendingFor(state string) *pendingAuth {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.pending.matches(state) {
		return m.pending
	}
	return nil
}

func (m *Manager) cancelPending(op string) {
	m.mu.Lock()
	p := m.pending
	m.pending = nil
	m.mu.Unlock()

	if p != nil {
		p.resolve(nil, canceled(op))
	}
}

// BeginLogin builds a hosted login URL and records it as the pending
// authorization, replacing any earlier one. The host presents the URL and
// hands the redirect to CompleteLogin or HandleOpenURL.
func (m *Manager) BeginLogin(ctx context.Context, opts LoginOptions) (string, error) {
	const op = "begin login"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.runtime(op)
	if err != nil {
		return "", err
	}
	ar, err := rt.builder.Hosted(authurl.HostedRequest{Action: authurl.ActionLogin, LoginHint: opts.LoginHint})
	if err != nil {
		return "", err
	}

	m.beginPending(ctx, &pendingAuth{
		method:      MethodHosted,
		action:      authurl.ActionLogin,
		state:       ar.State,
		verifier:    ar.Verifier,
		redirectURI: ar.RedirectURI,
		nonce:       ar.Nonce,
	})
	return ar.URL, nil
}

// CompleteLogin finishes the pending authorization with the redirect the
// provider sent back.
func (m *Manager) CompleteLogin(ctx context.Context, callbackURL string) (*session.Identity, error) {
	const op = "complete login"
	ctx, _ = m.opContext(ctx, op)

	cb, err := authurl.ParseCallback(callbackURL)
	if cb == nil {
		return nil, classify(op, err)
	}

	p := m.pendingFor(cb.State)
	if p == nil {
		return nil, autherr.Authentication(op, ErrStateMismatch)
	}
	return m.completePending(ctx, op, p, callbackURL)
}

// completePending exchanges the code of a callback for p and resolves p
// with the outcome.
func (m *Manager) completePending(ctx context.Context, op string, p *pendingAuth, callbackURL string) (*session.Identity, error) {
	cb, perr := authurl.ParseCallback(callbackURL)
	if cb == nil {
		err := classify(op, perr)
		p.resolve(nil, err)
		return nil, err
	}
	if !p.matches(cb.State) {
		return nil, autherr.Authentication(op, ErrStateMismatch)
	}
	if !m.claimPending(p) {
		return nil, canceled(op)
	}

	var pe *authurl.ProviderError
	if errors.As(perr, &pe) {
		err := providerError(op, pe)
		m.recordLogin(ctx, p.method, err)
		p.resolve(nil, err)
		return nil, err
	}
	if perr != nil {
		err := classify(op, perr)
		p.resolve(nil, err)
		return nil, err
	}

	user, err := m.finishAuthorization(ctx, op, p, cb.Code)
	p.resolve(user, err)
	return user, err
}

func (m *Manager) finishAuthorization(ctx context.Context, op string, p *pendingAuth, code string) (*session.Identity, error) {
	gen := m.sessionGeneration()
	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}

	tr, err := rt.client.ExchangeCode(ctx, code, p.redirectURI, p.verifier)
	if err != nil {
		m.recordLogin(ctx, p.method, err)
		return nil, err
	}

	user, err := m.establish(ctx, rt, op, gen, tr, p.nonce)
	if err == nil && p.action == authurl.ActionStepUp {
		m.markSteppedUp()
	}
	m.recordLogin(ctx, p.method, err)
	return user, err
}

// Login runs a hosted login through the Presenter. A dismissed browser
// returns autherr.ErrCanceled.
func (m *Manager) Login(ctx context.Context) (*session.Identity, error) {
	return m.LoginWithOptions(ctx, LoginOptions{})
}

func (m *Manager) LoginWithOptions(ctx context.Context, opts LoginOptions) (*session.Identity, error) {
	const op = "login"
	ctx, _ = m.opContext(ctx, op)
	return m.authorize(ctx, op, authurl.HostedRequest{Action: authurl.ActionLogin, LoginHint: opts.LoginHint}, MethodHosted)
}

// authorize runs one hosted authorization end to end.
func (m *Manager) authorize(ctx context.Context, op string, req authurl.HostedRequest, method string) (*session.Identity, error) {
	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}
	if m.presenter == nil {
		return nil, autherr.Configuration(op, "no presenter configured")
	}

	ar, err := rt.builder.Hosted(req)
	if err != nil {
		return nil, err
	}

	p := m.beginPending(ctx, &pendingAuth{
		method:      method,
		action:      req.Action,
		state:       ar.State,
		verifier:    ar.Verifier,
		redirectURI: ar.RedirectURI,
		nonce:       ar.Nonce,
	})
	return m.present(ctx, op, p, ar.URL)
}

// present shows authURL and waits for p to resolve, either from the
// presenter's redirect or from HandleOpenURL.
func (m *Manager) present(ctx context.Context, op string, p *pendingAuth, authURL string) (*session.Identity, error) {
	m.session.SetLoading(true)
	defer m.session.SetLoading(false)

	go func() {
		callbackURL, err := m.presenter.Present(p.ctx, authURL, callbackScheme(p.redirectURI))
		if err != nil {
			if isCanceled(err) || p.ctx.Err() != nil {
				err = canceled(op)
			} else {
				err = classify(op, err)
			}
			if m.claimPending(p) {
				m.recordLogin(p.ctx, p.method, err)
			}
			p.resolve(nil, err)
			return
		}
		if _, err := m.completePending(p.ctx, op, p, callbackURL); err != nil {
			m.claimPending(p)
			p.resolve(nil, err)
		}
	}()

	select {
	case <-p.done:
		if p.err != nil {
			logFailure(ctx, "login failed", p.err)
		}
		return p.user, p.err
	case <-ctx.Done():
		if m.claimPending(p) {
			m.recordLogin(ctx, p.method, context.Cause(ctx))
		}
		p.resolve(nil, canceled(op))
		slogFrom(ctx).DebugContext(ctx, "login abandoned", "login_id", p.id)
		return nil, canceled(op)
	}
}

// LoginWithSocialProvider logs in through a built-in social provider. The
// provider's redirect completes like a hosted login.
func (m *Manager) LoginWithSocialProvider(ctx context.Context, provider authurl.Provider) (*session.Identity, error) {
	const op = "login with social provider"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.socialRuntime(op)
	if err != nil {
		return nil, err
	}

	su, ok, err := rt.builder.Social(ctx, provider, authurl.ActionLogin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, autherr.Authentication(op, ErrProviderUnavailable)
	}
	return m.presentSocial(ctx, op, rt, su)
}

// LoginWithCustomProvider logs in through a tenant-defined provider.
func (m *Manager) LoginWithCustomProvider(ctx context.Context, id string) (*session.Identity, error) {
	const op = "login with custom provider"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.providerRuntime(op, m.cfg.SSOEnabled, "single sign-on")
	if err != nil {
		return nil, err
	}

	su, ok, err := rt.builder.CustomSocial(ctx, id, authurl.ActionLogin)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, autherr.Authentication(op, ErrProviderUnavailable)
	}
	return m.presentSocial(ctx, op, rt, su)
}

func (m *Manager) socialRuntime(op string) (*regionRuntime, error) {
	return m.providerRuntime(op, m.cfg.SocialLoginEnabled, "social login")
}

// providerRuntime returns the region runtime for a login through an
// external provider, failing when the feature is disabled.
func (m *Manager) providerRuntime(op string, enabled bool, feature string) (*regionRuntime, error) {
	if !enabled {
		return nil, autherr.Configuration(op, "%s is disabled", feature)
	}
	if m.presenter == nil {
		return nil, autherr.Configuration(op, "no presenter configured")
	}
	return m.runtime(op)
}

func (m *Manager) presentSocial(ctx context.Context, op string, rt *regionRuntime, su *authurl.SocialURL) (*session.Identity, error) {
	verifier, err := m.site.Get(ctx, rt.builder.Domain(), authurl.SiteKeyCodeVerifier)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, classify(op, err)
	}

	p := m.beginPending(ctx, &pendingAuth{
		method:      MethodSocial,
		action:      authurl.ActionLogin,
		state:       su.State,
		verifier:    verifier,
		redirectURI: rt.builder.RedirectURI(),
	})
	return m.present(ctx, op, p, su.URL)
}

// ExchangeTokens establishes a session from tokens the host obtained
// directly.
func (m *Manager) ExchangeTokens(ctx context.Context, tokens *authsdk.TokenResponse) (*session.Identity, error) {
	const op = "exchange tokens"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}
	user, err := m.establish(ctx, rt, op, m.sessionGeneration(), tokens, "")
	m.recordLogin(ctx, MethodExchange, err)
	return user, err
}

// HandleOpenURL claims URLs addressed to the identity provider's host or to
// the redirect URI. A claimed callback for the pending authorization
// completes it; its outcome goes to whoever waits on the login.
func (m *Manager) HandleOpenURL(ctx context.Context, rawURL string) bool {
	const op = "handle open url"
	ctx, logger := m.opContext(ctx, op)

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	m.mu.Lock()
	rt := m.rt
	m.mu.Unlock()
	if rt == nil {
		return false
	}

	if !strings.EqualFold(u.Hostname(), rt.builder.Domain()) && !matchesRedirect(u, rt.builder.RedirectURI()) {
		return false
	}

	cb, _ := authurl.ParseCallback(rawURL)
	if cb == nil || (cb.Code == "" && !u.Query().Has("error")) {
		logger.DebugContext(ctx, "claimed url without authorization response", "path", u.Path)
		return true
	}

	p := m.pendingFor(cb.State)
	if p == nil {
		logger.DebugContext(ctx, "callback without pending login")
		return true
	}

	if _, err := m.completePending(ctx, op, p, rawURL); err != nil {
		logFailure(ctx, "callback failed", err)
	}
	return true
}

func (m *Manager) recordLogin(ctx context.Context, method string, err error) {
	m.metrics.Logins.WithLabelValues(method, resultOf(err)).Inc()
	if err == nil {
		slogFrom(ctx).InfoContext(ctx, "login succeeded", "method", method)
	}
}

func matchesRedirect(u *url.URL, redirectURI string) bool {
	r, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, r.Scheme) && strings.TrimSuffix(u.Path, "/") == strings.TrimSuffix(r.Path, "/")
}

func callbackScheme(redirectURI string) string {
	r, err := url.Parse(redirectURI)
	if err != nil {
		return ""
	}
	return r.Scheme
}
