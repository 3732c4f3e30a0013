package auth_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/internal/fakeidp"
	"github.com/aussiebroadwan/loginkit/pkg/auth"
	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestConcurrentRefreshSharesOneCall(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	release := h.idp.Hold(authsdk.PathToken)
	t.Cleanup(release)

	const callers = 6
	results := make([]auth.Tokens, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = h.mgr.RefreshToken(ctx)
		}()
	}

	require.Eventually(t, func() bool { return h.idp.Calls(authsdk.PathToken) == 2 }, 5*time.Second, 5*time.Millisecond)
	// Give the other callers time to join the held request.
	time.Sleep(100 * time.Millisecond)
	require.True(t, h.mgr.Session().Snapshot().RefreshingToken)
	require.Equal(t, auth.ActivityRefreshingToken, h.mgr.Status().Activity)

	release()
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
	require.Equal(t, 2, h.idp.Calls(authsdk.PathToken), "one network refresh for every caller")
	require.Equal(t, h.mgr.Session().RefreshToken(), results[0].RefreshToken)
	require.Equal(t, float64(callers-1), testutil.ToFloat64(h.mgr.Metrics().RefreshJoins))
	require.Equal(t, auth.ActivityStable, h.mgr.Status().Activity)
	require.False(t, h.mgr.Session().Snapshot().RefreshingToken)
}

func TestRefreshFailureInvalidatesSession(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		code    string
		network bool
	}{
		{"revoked", http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, false},
		{"provider down", http.StatusServiceUnavailable, authsdk.ErrorCodeServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.login(t)
			ctx := context.Background()
			deviceID := h.mgr.DeviceID()

			h.idp.Fail(authsdk.PathToken, tt.status, tt.code)
			_, err := h.mgr.RefreshToken(ctx)
			require.Error(t, err)
			require.Equal(t, tt.network, autherr.IsNetwork(err))

			require.Equal(t, auth.StateUnauthenticated, h.mgr.Status().State)
			snap := h.mgr.Session().Snapshot()
			require.False(t, snap.IsAuthenticated)
			require.Empty(t, snap.AccessToken)
			require.Nil(t, snap.User)

			refresh, err := storage.GetOptional(ctx, h.store, storage.KeyRefreshToken)
			require.NoError(t, err)
			require.Empty(t, refresh)

			stored, err := h.store.Get(ctx, storage.KeyDeviceID)
			require.NoError(t, err)
			require.Equal(t, deviceID, stored)

			require.Equal(t, 1.0, testutil.ToFloat64(h.mgr.Metrics().Refreshes.WithLabelValues("error")))
		})
	}
}

func TestRefreshWithoutSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	_, err := h.mgr.RefreshToken(context.Background())
	require.ErrorIs(t, err, autherr.ErrNotAuthenticated)
	require.Zero(t, h.idp.Calls(authsdk.PathToken))
}

func TestValidAccessToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.ValidAccessToken(ctx)
	require.ErrorIs(t, err, autherr.ErrNotAuthenticated)

	h.login(t)
	first := h.mgr.Session().AccessToken()

	token, err := h.mgr.ValidAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, first, token)
	require.Equal(t, 1, h.idp.Calls(authsdk.PathToken))

	// Inside the leeway of a five minute token.
	h.clock.Advance(5*time.Minute - 500*time.Millisecond)

	token, err = h.mgr.ValidAccessToken(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, token)
	require.Equal(t, token, h.mgr.Session().AccessToken())
	require.Equal(t, 2, h.idp.Calls(authsdk.PathToken))
}

func TestProactiveRefresh(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withIDP(fakeidp.Options{AccessTTL: 3 * time.Second}))
	h.login(t)
	first := h.mgr.Session().AccessToken()

	require.Eventually(t, func() bool {
		return h.idp.Calls(authsdk.PathToken) >= 2 && h.mgr.Session().AccessToken() != first
	}, 10*time.Second, 20*time.Millisecond)

	require.Equal(t, auth.StateAuthenticated, h.mgr.Status().State)
	require.GreaterOrEqual(t, testutil.ToFloat64(h.mgr.Metrics().Refreshes.WithLabelValues("success")), 1.0)

	t.Run("stops after logout", func(t *testing.T) {
		require.NoError(t, h.mgr.Logout(context.Background()))
		calls := h.idp.Calls(authsdk.PathToken)

		time.Sleep(3 * time.Second)
		require.Equal(t, calls, h.idp.Calls(authsdk.PathToken))
	})
}

func TestSwitchTenant(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	var mu sync.Mutex
	var dropped []session.Change
	h.mgr.Session().Subscribe(func(c session.Change) {
		if c.Field == session.FieldIsAuthenticated && c.New == false {
			mu.Lock()
			dropped = append(dropped, c)
			mu.Unlock()
		}
	})

	t.Run("member tenant", func(t *testing.T) {
		before := h.mgr.Session().AccessToken()

		user, err := h.mgr.SwitchTenant(ctx, "t2")
		require.NoError(t, err)
		require.Equal(t, "t2", user.TenantID)
		require.NotNil(t, user.ActiveTenant)
		require.Equal(t, "t2", user.ActiveTenant.TenantID)
		require.Equal(t, "t2", h.mgr.Session().User().ActiveTenant.TenantID)
		require.Equal(t, "t2", h.idp.ActiveTenant(alice.ID))
		require.NotEqual(t, before, h.mgr.Session().AccessToken())
		require.Equal(t, "t2", h.mgr.Session().User().TenantID)
		require.Equal(t, 1.0, testutil.ToFloat64(h.mgr.Metrics().Logins.WithLabelValues(auth.MethodTenant, "success")))
	})

	t.Run("foreign tenant", func(t *testing.T) {
		_, err := h.mgr.SwitchTenant(ctx, "t9")
		require.True(t, autherr.IsAuthentication(err))
		require.True(t, h.mgr.Session().IsAuthenticated())
		require.Equal(t, "t2", h.mgr.Session().User().TenantID)
	})

	t.Run("empty tenant", func(t *testing.T) {
		_, err := h.mgr.SwitchTenant(ctx, "")
		require.True(t, autherr.IsConfiguration(err))
	})

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, dropped, "session never observed as signed out")
}

func TestSwitchTenantWaitsForRefreshInFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)
	ctx := context.Background()

	release := h.idp.Hold(authsdk.PathToken)
	t.Cleanup(release)

	refreshed := make(chan error, 1)
	go func() {
		_, err := h.mgr.RefreshToken(ctx)
		refreshed <- err
	}()
	require.Eventually(t, func() bool { return h.idp.Calls(authsdk.PathToken) == 2 }, 5*time.Second, 5*time.Millisecond)

	switched := make(chan error, 1)
	go func() {
		_, err := h.mgr.SwitchTenant(ctx, "t2")
		switched <- err
	}()
	require.Eventually(t, func() bool { return h.idp.ActiveTenant(alice.ID) == "t2" }, 5*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, h.idp.Calls(authsdk.PathToken), "the switch waits for the refresh in flight")

	release()
	require.NoError(t, <-refreshed)
	require.NoError(t, <-switched)

	require.Equal(t, 3, h.idp.Calls(authsdk.PathToken))
	require.True(t, h.mgr.Session().IsAuthenticated())
	require.Equal(t, "t2", h.mgr.Session().User().ActiveTenant.TenantID)
	require.Equal(t, auth.StateAuthenticated, h.mgr.Status().State)
}

func TestOpaqueAccessToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withIDP(fakeidp.Options{OpaqueAccessTokens: true}))
	h.login(t)
	ctx := context.Background()
	calls := h.idp.Calls(authsdk.PathToken)

	// No expiry is known, so the clock does not matter.
	h.clock.Advance(time.Hour)

	token, err := h.mgr.ValidAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, h.mgr.Session().AccessToken(), token)

	_, err = h.mgr.Tenants(ctx)
	require.NoError(t, err)
	require.Equal(t, calls, h.idp.Calls(authsdk.PathToken))
}

func TestTenants(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.login(t)

	tenants, err := h.mgr.Tenants(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(tenants))
	for _, tn := range tenants {
		ids = append(ids, tn.TenantID)
	}
	require.ElementsMatch(t, alice.Tenants, ids)
}

func TestStepUp(t *testing.T) {
	t.Parallel()

	var presented atomic.Int32
	h := newHarness(t, withOptions(func(o *auth.Options) {
		inner := o.Presenter
		o.Presenter = auth.PresenterFunc(func(ctx context.Context, authURL, scheme string) (string, error) {
			presented.Add(1)
			return inner.Present(ctx, authURL, scheme)
		})
	}))
	ctx := context.Background()

	t.Run("requires a session", func(t *testing.T) {
		h.start(t)
		_, err := h.mgr.StepUp(ctx, time.Hour)
		require.ErrorIs(t, err, autherr.ErrNotAuthenticated)
		require.Zero(t, presented.Load())
	})

	_, err := h.mgr.Login(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, presented.Load())
	require.False(t, h.mgr.IsSteppedUp(time.Hour), "password login is not strong")

	t.Run("steps up through the hosted page", func(t *testing.T) {
		user, err := h.mgr.StepUp(ctx, time.Hour)
		require.NoError(t, err)
		require.Equal(t, alice.Email, user.Email)
		require.EqualValues(t, 2, presented.Load())
		require.True(t, h.mgr.IsSteppedUp(time.Hour))
		require.True(t, h.mgr.Session().Snapshot().IsStepUpAuthorization)
		require.Equal(t, auth.ActivityStable, h.mgr.Status().Activity)
	})

	t.Run("recent step up is reused", func(t *testing.T) {
		_, err := h.mgr.StepUp(ctx, time.Hour)
		require.NoError(t, err)
		require.EqualValues(t, 2, presented.Load())
	})

	t.Run("step up ages out", func(t *testing.T) {
		h.clock.Advance(2 * time.Hour)
		require.False(t, h.mgr.IsSteppedUp(time.Hour))
		require.True(t, h.mgr.IsSteppedUp(3*time.Hour))
	})
}

func TestMFALogin(t *testing.T) {
	t.Parallel()

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "fakeidp", AccountName: "bob@example.com"})
	require.NoError(t, err)

	h := newHarness(t)
	h.idp.AddUser(&fakeidp.User{ID: "user-2", Email: "bob@example.com", Name: "Bob", Tenants: []string{"t1"}, MFASecret: key.Secret()})
	h.start(t)
	ctx := context.Background()

	_, err = h.mgr.LoginWithOptions(ctx, auth.LoginOptions{LoginHint: "bob@example.com"})
	var challenge *authsdk.MFARequiredError
	require.True(t, errors.As(err, &challenge), "got %v", err)
	require.ErrorIs(t, err, autherr.ErrMFARequired)
	require.Equal(t, auth.StateUnauthenticated, h.mgr.Status().State)
	require.Equal(t, 1.0, testutil.ToFloat64(h.mgr.Metrics().Logins.WithLabelValues(auth.MethodHosted, "mfa_required")))

	t.Run("wrong code", func(t *testing.T) {
		_, err := h.mgr.CompleteMFA(ctx, challenge, "000000")
		require.ErrorIs(t, err, autherr.ErrInvalidCredentials)
		require.False(t, h.mgr.Session().IsAuthenticated())
	})

	t.Run("missing challenge", func(t *testing.T) {
		_, err := h.mgr.CompleteMFA(ctx, nil, "123456")
		require.True(t, autherr.IsConfiguration(err))
	})

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	user, err := h.mgr.CompleteMFA(ctx, challenge, code)
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", user.Email)
	require.Equal(t, auth.StateAuthenticated, h.mgr.Status().State)
	require.True(t, h.mgr.IsSteppedUp(time.Minute))
	require.Equal(t, 1.0, testutil.ToFloat64(h.mgr.Metrics().Logins.WithLabelValues(auth.MethodMFA, "success")))
}
