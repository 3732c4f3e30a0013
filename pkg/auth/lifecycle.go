package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
)

// Tokens is the credential pair of a session.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

func slogFrom(ctx context.Context) *slog.Logger { return slogx.FromContext(ctx) }

// logFailure logs err at warn level, or at debug level for cancellations.
func logFailure(ctx context.Context, msg string, err error) {
	l := slogFrom(ctx)
	if isCanceled(err) {
		l.DebugContext(ctx, msg, "error", err)
		return
	}
	l.WarnContext(ctx, msg, "error", err, "kind", autherr.KindOf(err).String())
}

// sessionGeneration identifies the current session. Logout, invalidation
// and a region change start a new one.
func (m *Manager) sessionGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// nextGenerationLocked discards the results of work started under the
// current generation. Callers hold commitMu.
func (m *Manager) nextGenerationLocked() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
}

// establish turns issued tokens into a session: verify, fetch the identity,
// persist, then publish. Tokens issued under an older generation than gen
// are dropped and the call reports a cancellation.
func (m *Manager) establish(
	ctx context.Context,
	rt *regionRuntime,
	op string,
	gen uint64,
	tr *authsdk.TokenResponse,
	nonce string,
) (*session.Identity, error) {
	if tr == nil || tr.AccessToken == "" {
		return nil, autherr.Decoding(op, errors.New("token response without access token"))
	}

	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = m.session.RefreshToken()
	}

	if tr.IDToken != "" && m.verifyIDTokens {
		claims, err := rt.client.VerifyIDToken(ctx, tr.IDToken)
		if err != nil {
			return nil, autherr.Authentication(op, err)
		}
		if nonce != "" && claims.Nonce != nonce {
			return nil, autherr.Authentication(op, ErrNonceMismatch)
		}
	}

	user, claims, err := m.fetchIdentity(ctx, rt, tr.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if m.sessionGeneration() != gen {
		slogFrom(ctx).DebugContext(ctx, "dropping tokens of an ended session")
		return nil, canceled(op)
	}
	if err := m.persistTokens(ctx, tr.AccessToken, refresh); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.publish(ctx, rt, tr.AccessToken, refresh, user, claims)
	return user.Clone(), nil
}

func (m *Manager) fetchIdentity(ctx context.Context, rt *regionRuntime, access string) (*session.Identity, *jwtx.Claims, error) {
	me, err := rt.client.Me(ctx, access)
	if err != nil {
		return nil, nil, err
	}

	// Claims only fill gaps, a token we cannot decode is not fatal.
	claims, err := jwtx.ParseUnverified(access)
	if err != nil {
		slogFrom(ctx).DebugContext(ctx, "access token is not a readable jwt", "error", err)
		claims = nil
	}

	return identityFrom(me, claims, m.now()), claims, nil
}

func (m *Manager) persistTokens(ctx context.Context, access, refresh string) error {
	if err := m.store.Save(ctx, storage.KeyAccessToken, access); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if err := m.store.Save(ctx, storage.KeyRefreshToken, refresh); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	return nil
}

// clearTokens empties the store but keeps the device id and region.
func (m *Manager) clearTokens(ctx context.Context) error {
	keep := make(map[string]string, 2)
	for _, k := range []string{storage.KeyDeviceID, storage.KeyRegion} {
		v, err := storage.GetOptional(ctx, m.store, k)
		if err != nil {
			return fmt.Errorf("read %s: %w", k, err)
		}
		if v != "" {
			keep[k] = v
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear storage: %w", err)
	}

	for k, v := range keep {
		if err := m.store.Save(ctx, k, v); err != nil {
			return fmt.Errorf("restore %s: %w", k, err)
		}
	}
	return nil
}

// publish swaps the credentials on the session in one transition and moves
// to StateAuthenticated.
func (m *Manager) publish(
	ctx context.Context,
	rt *regionRuntime,
	access, refresh string,
	user *session.Identity,
	claims *jwtx.Claims,
) {
	m.session.SetCredentials(access, refresh, user)

	strong := false
	m.mu.Lock()
	if claims != nil && claims.IsMultiFactor() {
		if at := claims.AuthenticatedAt(); at.After(m.lastStrongAuth) {
			m.lastStrongAuth = at
		}
		strong = true
	}
	m.mu.Unlock()

	if strong {
		m.session.SetStepUpAuthorization(true)
	}

	m.setState(ctx, StateAuthenticated)
	m.scheduleRefresh(rt, claims)
}

// invalidate drops the session after a failed refresh started under gen.
// Storage is cleared before the session is published as unauthenticated.
// A session that already ended is left alone.
func (m *Manager) invalidate(ctx context.Context, gen uint64, cause error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	if m.sessionGeneration() != gen {
		logFailure(ctx, "refresh of an ended session failed", cause)
		return
	}
	m.nextGenerationLocked()
	m.stopRefreshTimer()

	if err := m.clearTokens(ctx); err != nil {
		slogFrom(ctx).ErrorContext(ctx, "failed to clear tokens", "error", err)
	}
	m.session.ClearCredentials()

	m.mu.Lock()
	m.lastStrongAuth = time.Time{}
	m.mu.Unlock()

	m.setState(ctx, StateUnauthenticated)
	logFailure(ctx, "session invalidated", cause)
}

// markSteppedUp records a strong authentication that just happened.
func (m *Manager) markSteppedUp() {
	m.mu.Lock()
	m.lastStrongAuth = m.now()
	m.mu.Unlock()
	m.session.SetStepUpAuthorization(true)
}

// scheduleRefresh arms the proactive refresh RefreshLeeway before the access
// token expires. Tokens without exp, or already inside the leeway, are left
// to ValidAccessToken.
func (m *Manager) scheduleRefresh(rt *regionRuntime, claims *jwtx.Claims) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopRefreshTimerLocked()
	if m.closed || claims == nil {
		return
	}

	exp := claims.Expiry()
	if exp.IsZero() {
		return
	}
	wait := exp.Sub(m.now()) - m.cfg.RefreshLeeway
	if wait <= 0 {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(wait, func() {
		m.mu.Lock()
		current := m.refreshTimer == t && m.rt == rt && !m.closed
		m.mu.Unlock()
		if !current {
			return
		}

		ctx, logger := m.opContext(context.Background(), "proactive refresh")
		if _, err := m.refresh(ctx, "proactive refresh", MethodProactive); err != nil {
			logFailure(ctx, "proactive refresh failed", err)
			return
		}
		logger.DebugContext(ctx, "access token refreshed ahead of expiry")
	})
	m.refreshTimer = t
}

func (m *Manager) stopRefreshTimer() {
	m.mu.Lock()
	m.stopRefreshTimerLocked()
	m.mu.Unlock()
}

func (m *Manager) stopRefreshTimerLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}
