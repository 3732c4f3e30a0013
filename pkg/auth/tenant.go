package auth

import (
	"context"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/session"
)

// SwitchTenant moves the session to tenantID. The current token and user
// stay published until the tenant-scoped pair replaces them in one
// transition, so observers never see the session drop out.
func (m *Manager) SwitchTenant(ctx context.Context, tenantID string) (*session.Identity, error) {
	const op = "switch tenant"
	ctx, logger := m.opContext(ctx, op)

	if tenantID == "" {
		return nil, autherr.Configuration(op, "tenant id is required")
	}
	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}

	access, err := m.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	restore := m.setActivity(ActivitySwitchingTenant)
	defer restore()

	if err := rt.client.SwitchTenant(ctx, access, tenantID); err != nil {
		return nil, err
	}

	// A refresh that started before the switch returns the old scope.
	if _, err := m.refreshAfter(ctx, op, MethodTenant, m.refreshSeq.Load()); err != nil {
		return nil, err
	}

	user := m.session.User()
	logger.InfoContext(ctx, "tenant switched", "tenant_id", tenantID)
	m.recordLogin(ctx, MethodTenant, nil)
	return user, nil
}

// Tenants lists the tenants the user belongs to.
func (m *Manager) Tenants(ctx context.Context) ([]session.Tenant, error) {
	const op = "tenants"
	ctx, _ = m.opContext(ctx, op)

	rt, err := m.runtime(op)
	if err != nil {
		return nil, err
	}
	access, err := m.ValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := rt.client.MeTenants(ctx, access)
	if err != nil {
		return nil, err
	}

	out := make([]session.Tenant, 0, len(resp.Tenants))
	for _, t := range resp.Tenants {
		out = append(out, tenantFrom(t))
	}
	return out, nil
}
