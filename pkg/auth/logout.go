package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/config"
)

// Logout ends the session. The server logout is best effort. Site data of
// the identity provider and the token store are cleared before the session
// is published as unauthenticated. Tokens from a refresh or login still in
// flight are dropped.
func (m *Manager) Logout(ctx context.Context) error {
	const op = "logout"
	ctx, logger := m.opContext(ctx, op)

	m.commitMu.Lock()
	m.nextGenerationLocked()
	m.commitMu.Unlock()

	m.mu.Lock()
	prev := m.state
	rt := m.rt
	m.mu.Unlock()

	m.setState(ctx, StateLoggingOut)
	m.stopRefreshTimer()
	m.cancelPending(op)

	access, refresh := m.session.AccessToken(), m.session.RefreshToken()
	if rt != nil && access != "" {
		if err := rt.client.Logout(ctx, access, refresh); err != nil {
			logFailure(ctx, "server logout failed", err)
		}
	}

	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	// Work that began during the server logout belongs to the ended session.
	m.nextGenerationLocked()

	if rt != nil {
		if err := m.site.ClearSite(ctx, rt.builder.Domain()); err != nil {
			m.setState(ctx, prev)
			return fmt.Errorf("%s: clear site data: %w", op, err)
		}
	}
	if err := m.clearTokens(ctx); err != nil {
		m.setState(ctx, prev)
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	m.lastStrongAuth = time.Time{}
	m.mu.Unlock()

	m.session.ClearCredentials()
	m.session.SetLoading(false)

	next := StateUnauthenticated
	if rt == nil && m.cfg.Mode() == config.ModeMulti {
		next = StateAwaitingRegionSelection
	}
	m.setState(ctx, next)

	m.metrics.Logouts.Inc()
	logger.InfoContext(ctx, "logged out")
	return nil
}
