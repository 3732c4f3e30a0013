package auth

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/config"
	"github.com/aussiebroadwan/loginkit/pkg/passkeys"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/google/uuid"
)

// Start restores the session.
//
// A multi-region configuration without a persisted region stops in
// StateAwaitingRegionSelection without any network call. Otherwise a stored
// refresh token is exchanged once; failure clears the stored tokens and
// leaves the Manager unauthenticated.
func (m *Manager) Start(ctx context.Context) error {
	const op = "start"
	ctx, logger := m.opContext(ctx, op)

	m.setState(ctx, StateInitializing)
	m.session.SetInitializing(true)
	defer m.session.SetInitializing(false)

	if err := m.ensureDeviceID(ctx); err != nil {
		m.setState(ctx, StateUnauthenticated)
		return err
	}

	region, ok, err := m.resolveRegion(ctx)
	if err != nil {
		m.setState(ctx, StateUnauthenticated)
		return err
	}
	if !ok {
		logger.InfoContext(ctx, "waiting for region selection", "regions", len(m.cfg.Regions))
		m.setState(ctx, StateAwaitingRegionSelection)
		return nil
	}

	if err := m.activate(region); err != nil {
		m.setState(ctx, StateUnauthenticated)
		return err
	}
	return m.restore(ctx, op)
}

// AvailableRegions lists the configured regions.
func (m *Manager) AvailableRegions() []config.Region {
	return m.cfg.AvailableRegions()
}

// SelectRegion persists key as the selected region and runs startup for it.
// Moving to a different region drops the credentials of the previous one.
func (m *Manager) SelectRegion(ctx context.Context, key string) error {
	const op = "select region"
	ctx, logger := m.opContext(ctx, op)

	region, ok := m.cfg.FindRegion(key)
	if !ok {
		return autherr.Configuration(op, "unknown region %q", key)
	}

	m.mu.Lock()
	prev := m.rt
	m.mu.Unlock()

	if prev != nil && prev.region.Key != region.Key {
		logger.InfoContext(ctx, "switching region", "from", prev.region.Key, "to", region.Key)
		m.cancelPending(op)
		if err := m.dropRegionSession(ctx, prev); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := m.store.Save(ctx, storage.KeyRegion, region.Key); err != nil {
		return fmt.Errorf("%s: persist region: %w", op, err)
	}

	m.setState(ctx, StateInitializing)
	m.session.SetInitializing(true)
	defer m.session.SetInitializing(false)

	if err := m.ensureDeviceID(ctx); err != nil {
		m.setState(ctx, StateUnauthenticated)
		return err
	}
	if err := m.activate(region); err != nil {
		m.setState(ctx, StateUnauthenticated)
		return err
	}
	return m.restore(ctx, op)
}

// dropRegionSession clears the credentials bound to prev and ends the
// session they belong to.
func (m *Manager) dropRegionSession(ctx context.Context, prev *regionRuntime) error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.nextGenerationLocked()
	m.stopRefreshTimer()
	if err := m.site.ClearSite(ctx, prev.builder.Domain()); err != nil {
		return fmt.Errorf("clear site data: %w", err)
	}
	if err := m.clearTokens(ctx); err != nil {
		return err
	}
	m.session.ClearCredentials()
	return nil
}

// resolveRegion returns the region to run against, ok=false when the host
// has to pick one.
func (m *Manager) resolveRegion(ctx context.Context) (config.Region, bool, error) {
	if m.cfg.Mode() == config.ModeSingle {
		return *m.cfg.Region, true, nil
	}

	key, err := storage.GetOptional(ctx, m.store, storage.KeyRegion)
	if err != nil {
		return config.Region{}, false, fmt.Errorf("read region: %w", err)
	}
	if key == "" {
		return config.Region{}, false, nil
	}

	region, ok := m.cfg.FindRegion(key)
	if !ok {
		slogFrom(ctx).WarnContext(ctx, "persisted region is no longer configured", "region", key)
		return config.Region{}, false, nil
	}
	return region, true, nil
}

// activate binds the API client, URL builder and passkey bridge to region.
func (m *Manager) activate(region config.Region) error {
	client := authsdk.NewRegionClient(region, m.hc)

	builder, err := authurl.NewBuilder(authurl.Options{
		BaseURL:           region.BaseURL,
		ClientID:          region.ClientID,
		AppID:             region.ApplicationID,
		BundleID:          m.cfg.BundleID,
		Platform:          m.cfg.Platform,
		RedirectURI:       m.cfg.RedirectURI,
		EnforceSocialPKCE: m.cfg.EnforceSocialPKCE,
		Source:            client,
		SiteData:          m.site,
	})
	if err != nil {
		return err
	}

	bridgeOpts := append([]passkeys.Option{
		passkeys.WithLogger(m.logger.With("component", "passkeys")),
		passkeys.WithAttemptHook(func(_ int, err error) {
			m.metrics.PasskeyAttempts.WithLabelValues(resultOf(err)).Inc()
		}),
	}, m.bridgeOpts...)

	rt := &regionRuntime{
		region:  region,
		client:  client,
		builder: builder,
		bridge:  passkeys.NewBridge(client, m.platform, bridgeOpts...),
	}

	m.mu.Lock()
	m.rt = rt
	m.mu.Unlock()

	m.session.SetSelectedRegion(&region)
	return nil
}

// restore exchanges the stored refresh token, if any.
func (m *Manager) restore(ctx context.Context, op string) error {
	refresh, err := storage.GetOptional(ctx, m.store, storage.KeyRefreshToken)
	if err != nil {
		m.setState(ctx, StateUnauthenticated)
		return fmt.Errorf("%s: read refresh token: %w", op, err)
	}
	if refresh == "" {
		m.setState(ctx, StateUnauthenticated)
		return nil
	}

	if _, err := m.refresh(ctx, op, MethodStartup); err != nil {
		logFailure(ctx, "session restore failed", err)
	}
	return nil
}

func (m *Manager) ensureDeviceID(ctx context.Context) error {
	id, err := storage.GetOptional(ctx, m.store, storage.KeyDeviceID)
	if err != nil {
		return fmt.Errorf("read device id: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
		if err := m.store.Save(ctx, storage.KeyDeviceID, id); err != nil {
			return fmt.Errorf("persist device id: %w", err)
		}
	}

	m.mu.Lock()
	m.deviceID = id
	m.mu.Unlock()
	return nil
}
