package auth

import (
	"context"
	"encoding/json"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/passkeys"
	"github.com/aussiebroadwan/loginkit/pkg/session"
)

// LoginWithPasskeys signs in with a platform passkey. Prelogin and the
// platform assertion are retried when no credential is found or the user
// dismissed the prompt. The loading flag is cleared on every outcome.
func (m *Manager) LoginWithPasskeys(ctx context.Context) (*session.Identity, error) {
	const op = "login with passkeys"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.passkeyRuntime(op)
	if err != nil {
		return nil, err
	}

	gen := m.sessionGeneration()
	m.session.SetLoading(true)
	defer m.session.SetLoading(false)

	tr, err := rt.bridge.Login(ctx)
	if err != nil {
		err = classify(op, err)
		m.recordLogin(ctx, MethodPasskey, err)
		logFailure(ctx, "passkey login failed", err)
		return nil, err
	}

	user, err := m.establish(ctx, rt, op, gen, tr, "")
	m.recordLogin(ctx, MethodPasskey, err)
	return user, err
}

// RegisterPasskeys creates a passkey for the signed in user and returns the
// server's verification payload, nil when it sent none.
func (m *Manager) RegisterPasskeys(ctx context.Context) (json.RawMessage, error) {
	const op = "register passkeys"
	ctx, logger := m.opContext(ctx, op)

	rt, err := m.passkeyRuntime(op)
	if err != nil {
		return nil, err
	}
	access, err := m.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	m.session.SetLoading(true)
	defer m.session.SetLoading(false)

	payload, err := rt.bridge.Register(ctx, access)
	if err != nil {
		err = classify(op, err)
		logFailure(ctx, "passkey registration failed", err)
		return nil, err
	}

	logger.InfoContext(ctx, "passkey registered")
	return payload, nil
}

// DispatchPasskeyMessage runs a ceremony requested by the embedded web
// surface. See passkeys.Bridge.Dispatch.
func (m *Manager) DispatchPasskeyMessage(ctx context.Context, msg passkeys.Message, reply func(passkeys.Reply)) error {
	const op = "dispatch passkey message"
	ctx, _ = m.opContext(ctx, op)

	if !m.cfg.EmbeddedMode {
		return autherr.Configuration(op, "the message bridge needs embedded mode")
	}
	rt, err := m.passkeyRuntime(op)
	if err != nil {
		return err
	}
	if err := rt.bridge.Dispatch(ctx, msg, reply); err != nil {
		return classify(op, err)
	}
	return nil
}

func (m *Manager) passkeyRuntime(op string) (*regionRuntime, error) {
	if m.platform == nil {
		return nil, autherr.Configuration(op, "no passkey platform configured")
	}
	return m.runtime(op)
}
