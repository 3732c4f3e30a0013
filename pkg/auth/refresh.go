package auth

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
)

const refreshKey = "refresh"

// RefreshToken exchanges the refresh token for a new pair. Concurrent
// callers share one network call and all see its outcome. A failed refresh
// invalidates the session; it is not retried.
func (m *Manager) RefreshToken(ctx context.Context) (Tokens, error) {
	const op = "refresh token"
	ctx, _ = m.opContext(ctx, op)
	return m.refresh(ctx, op, MethodSilent)
}

func (m *Manager) refresh(ctx context.Context, op, method string) (Tokens, error) {
	res, err := m.sharedRefresh(ctx, op, method)
	return res.tokens, err
}

// refreshResult carries the sequence number of the refresh that produced
// it.
type refreshResult struct {
	tokens Tokens
	seq    uint64
}

// sharedRefresh joins the refresh in flight or leads a new one. The shared
// call outlives any single caller.
func (m *Manager) sharedRefresh(ctx context.Context, op, method string) (refreshResult, error) {
	led := false
	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		led = true
		seq := m.refreshSeq.Add(1)
		tokens, err := m.doRefresh(context.WithoutCancel(ctx), op, method)
		return refreshResult{tokens: tokens, seq: seq}, err
	})

	select {
	case res := <-ch:
		if !led {
			m.metrics.RefreshJoins.Inc()
		}
		out, _ := res.Val.(refreshResult)
		return out, res.Err
	case <-ctx.Done():
		return refreshResult{}, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// refreshAfter returns the outcome of a refresh that started after the one
// numbered seq. An older refresh still in flight is waited out, never run
// alongside.
func (m *Manager) refreshAfter(ctx context.Context, op, method string, seq uint64) (Tokens, error) {
	for {
		res, err := m.sharedRefresh(ctx, op, method)
		if err != nil {
			return Tokens{}, err
		}
		if res.seq > seq {
			return res.tokens, nil
		}
	}
}

func (m *Manager) doRefresh(ctx context.Context, op, method string) (Tokens, error) {
	gen := m.sessionGeneration()
	rt, err := m.runtime(op)
	if err != nil {
		return Tokens{}, err
	}

	refresh := m.session.RefreshToken()
	if refresh == "" {
		if refresh, err = storage.GetOptional(ctx, m.store, storage.KeyRefreshToken); err != nil {
			return Tokens{}, fmt.Errorf("%s: read refresh token: %w", op, err)
		}
	}
	if refresh == "" {
		return Tokens{}, autherr.Authentication(op, autherr.ErrNotAuthenticated)
	}

	m.session.SetRefreshingToken(true)
	defer m.session.SetRefreshingToken(false)
	restore := m.setActivity(ActivityRefreshingToken)
	defer restore()

	tr, err := rt.client.RefreshToken(ctx, refresh)
	m.metrics.Refreshes.WithLabelValues(resultOf(err)).Inc()
	if err != nil {
		m.invalidate(ctx, gen, err)
		return Tokens{}, err
	}

	if _, err := m.establish(ctx, rt, op, gen, tr, ""); err != nil {
		m.invalidate(ctx, gen, err)
		return Tokens{}, err
	}

	if method == MethodStartup {
		m.recordLogin(ctx, method, nil)
	}
	return Tokens{AccessToken: m.session.AccessToken(), RefreshToken: m.session.RefreshToken()}, nil
}

// ValidAccessToken returns the access token, refreshing it first when it
// expires within the configured leeway. An opaque token has no known expiry
// and is returned as is.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	const op = "valid access token"
	ctx, _ = m.opContext(ctx, op)

	access := m.session.AccessToken()
	if access == "" {
		return "", autherr.Authentication(op, autherr.ErrNotAuthenticated)
	}

	claims, err := jwtx.ParseUnverified(access)
	if err != nil || !claims.ExpiresWithin(m.now(), m.cfg.RefreshLeeway) {
		return access, nil
	}

	tokens, err := m.refresh(ctx, op, MethodSilent)
	if err != nil {
		return "", err
	}
	return tokens.AccessToken, nil
}

// RequestAuthorize establishes a session from a refresh token obtained
// elsewhere, for example right after sign-up.
func (m *Manager) RequestAuthorize(ctx context.Context, refreshToken string) (*session.Identity, error) {
	const op = "request authorize"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, autherr.Authentication(op, autherr.ErrInvalidCredentials)
	}

	gen := m.sessionGeneration()
	m.session.SetLoading(true)
	defer m.session.SetLoading(false)

	tr, err := rt.client.AuthorizeSilent(ctx, refreshToken)
	if err != nil {
		m.recordLogin(ctx, MethodSilent, err)
		return nil, err
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	user, err := m.establish(ctx, rt, op, gen, tr, "")
	m.recordLogin(ctx, MethodSilent, err)
	return user, err
}
