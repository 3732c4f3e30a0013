package auth

import (
	"context"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/session"
)

// CompleteMFA continues a login that ended in *authsdk.MFARequiredError
// with a second factor code. A successful verification counts as a strong
// authentication.
func (m *Manager) CompleteMFA(ctx context.Context, challenge *authsdk.MFARequiredError, code string) (*session.Identity, error) {
	const op = "complete mfa"
	ctx, _ = m.opContext(ctx, op)

	if challenge == nil || challenge.MFAToken == "" {
		return nil, autherr.Configuration(op, "mfa challenge is required")
	}
	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}

	gen := m.sessionGeneration()
	tr, err := rt.client.VerifyMFA(ctx, challenge.MFAToken, code)
	if err != nil {
		m.recordLogin(ctx, MethodMFA, err)
		return nil, err
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = challenge.RefreshToken
	}

	user, err := m.establish(ctx, rt, op, gen, tr, "")
	if err == nil {
		m.markSteppedUp()
	}
	m.recordLogin(ctx, MethodMFA, err)
	return user, err
}
