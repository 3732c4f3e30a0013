package auth

import (
	"context"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/session"
)

// IsSteppedUp reports whether the last strong authentication happened
// within maxAge. It never touches the network.
func (m *Manager) IsSteppedUp(maxAge time.Duration) bool {
	m.mu.Lock()
	last := m.lastStrongAuth
	m.mu.Unlock()

	if last.IsZero() {
		return false
	}
	return m.now().Sub(last) <= maxAge
}

// StepUp returns the current user when it is already stepped up within
// maxAge. Otherwise it runs a hosted authorization requesting multi-factor
// authentication and returns the refreshed user.
func (m *Manager) StepUp(ctx context.Context, maxAge time.Duration) (*session.Identity, error) {
	const op = "step up"
	ctx, _ = m.opContext(ctx, op)

	if m.IsSteppedUp(maxAge) {
		return m.session.User(), nil
	}

	user := m.session.User()
	if user == nil || !m.session.IsAuthenticated() {
		return nil, autherr.Authentication(op, autherr.ErrNotAuthenticated)
	}

	restore := m.setActivity(ActivitySteppingUp)
	defer restore()

	return m.authorize(ctx, op, authurl.HostedRequest{
		Action:    authurl.ActionStepUp,
		LoginHint: user.Email,
		MaxAge:    maxAge,
	}, MethodStepUp)
}
