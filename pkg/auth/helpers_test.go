package auth_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/internal/fakeidp"
	"github.com/aussiebroadwan/loginkit/pkg/auth"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/config"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "test-client"
	testBundleID = "com.example.app"
)

var alice = fakeidp.User{
	ID:      "user-1",
	Email:   "alice@example.com",
	Name:    "Alice",
	Tenants: []string{"t1", "t2"},
}

// harness wires a Manager to a fake identity provider.
type harness struct {
	t     testing.TB
	idp   *fakeidp.Server
	store *storage.Memory
	site  *storage.MemorySiteData
	clock *clock
	opts  auth.Options
	mgr   *auth.Manager
}

type option func(*harness)

// withIDP replaces the default provider.
func withIDP(opts fakeidp.Options) option {
	return func(h *harness) { h.useIDP(opts) }
}

func withPresenter(p auth.Presenter) option {
	return func(h *harness) { h.opts.Presenter = p }
}

func withConfig(fn func(*config.Config)) option {
	return func(h *harness) { fn(h.opts.Config) }
}

func withOptions(fn func(*auth.Options)) option {
	return func(h *harness) { fn(&h.opts) }
}

// useIDP starts a provider with alice registered and points the single
// region and the browser at it.
func (h *harness) useIDP(opts fakeidp.Options) {
	if opts.ClientID == "" {
		opts.ClientID = testClientID
	}
	h.idp = fakeidp.New(h.t, opts)
	u := alice
	h.idp.AddUser(&u)

	h.opts.Config.Region = &config.Region{Key: "au", BaseURL: h.idp.URL, ClientID: testClientID}
	h.opts.Presenter = browser(h.idp)
}

// newHarness starts a fake provider with alice registered and builds a
// Manager against it. Start is not called.
func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		store: storage.NewMemory(),
		site:  storage.NewMemorySiteData(),
		clock: &clock{},
	}
	h.opts = auth.Options{
		Config: &config.Config{
			KeychainService:    "loginkit-test",
			BundleID:           testBundleID,
			SocialLoginEnabled: true,
			SSOEnabled:         true,
			RefreshLeeway:      time.Second,
			RequestsPerSecond:  1000,
		},
		Storage:    h.store,
		SiteData:   h.site,
		Logger:     slogx.Discard(),
		Dispatcher: session.Inline(),
		Registerer: prometheus.NewRegistry(),
		Now:        h.clock.Now,
	}
	h.useIDP(fakeidp.Options{})

	for _, opt := range opts {
		opt(h)
	}

	mgr, err := auth.New(h.opts)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	h.mgr = mgr
	return h
}

// start runs Start and fails the test on error.
func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mgr.Start(context.Background()))
}

// login starts the Manager and signs alice in through the hosted page.
func (h *harness) login(t *testing.T) *session.Identity {
	t.Helper()
	h.start(t)
	user, err := h.mgr.Login(context.Background())
	require.NoError(t, err)
	return user
}

// redirectURI is the callback URI the Manager builds for the fake provider.
func (h *harness) redirectURI() string {
	u, _ := url.Parse(h.idp.URL)
	return fmt.Sprintf("%s://%s/%s/oauth/callback", testBundleID, u.Host, config.DefaultPlatform)
}

// clock is a settable offset on top of the wall clock.
type clock struct{ offset atomic.Int64 }

func (c *clock) Now() time.Time { return time.Now().Add(time.Duration(c.offset.Load())) }

func (c *clock) Advance(d time.Duration) { c.offset.Add(int64(d)) }

// browser follows the hosted page the way a system browser would and
// returns the redirect to the app.
func browser(idp *fakeidp.Server) auth.PresenterFunc {
	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	return func(ctx context.Context, authURL, scheme string) (string, error) {
		if !strings.HasPrefix(authURL, idp.URL) {
			return "", fmt.Errorf("unexpected authorization url %q", authURL)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return "", err
		}
		_ = resp.Body.Close()

		loc := resp.Header.Get("Location")
		if !strings.HasPrefix(loc, scheme+"://") {
			return "", fmt.Errorf("redirect %q does not use scheme %q", loc, scheme)
		}
		return loc, nil
	}
}

// blockingPresenter parks until the login is cancelled and reports every
// URL it was asked to show.
type blockingPresenter struct {
	shown chan string
}

func newBlockingPresenter() *blockingPresenter {
	return &blockingPresenter{shown: make(chan string, 8)}
}

func (p *blockingPresenter) Present(ctx context.Context, authURL, _ string) (string, error) {
	p.shown <- authURL
	<-ctx.Done()
	return "", autherr.ErrCanceled
}

// recorder keeps an ordered log of side effects.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) index(e string) int {
	for i, got := range r.list() {
		if got == e {
			return i
		}
	}
	return -1
}

type recordingStore struct {
	storage.Store
	rec      *recorder
	clearErr error
}

func (s *recordingStore) Clear(ctx context.Context) error {
	s.rec.add("store.clear")
	if s.clearErr != nil {
		return s.clearErr
	}
	return s.Store.Clear(ctx)
}

type recordingSite struct {
	storage.SiteData
	rec *recorder
}

func (s *recordingSite) ClearSite(ctx context.Context, domain string) error {
	s.rec.add("site.clear")
	return s.SiteData.ClearSite(ctx, domain)
}

var errDiskFull = errors.New("disk full")
