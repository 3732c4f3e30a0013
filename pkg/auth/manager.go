package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/authurl"
	"github.com/aussiebroadwan/loginkit/pkg/config"
	"github.com/aussiebroadwan/loginkit/pkg/httpx"
	"github.com/aussiebroadwan/loginkit/pkg/passkeys"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

// BuildVersion is reported in the default logger.
const BuildVersion = "v0.1.0"

// Presenter shows an authorization URL to the user, in a browser or an
// embedded web view, and returns the URL the provider redirected to.
//
// Present must return promptly once ctx is done. A user dismissing the
// surface is reported as autherr.ErrCanceled or context.Canceled.
type Presenter interface {
	Present(ctx context.Context, authURL, callbackScheme string) (callbackURL string, err error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, authURL, callbackScheme string) (string, error)

func (f PresenterFunc) Present(ctx context.Context, authURL, callbackScheme string) (string, error) {
	return f(ctx, authURL, callbackScheme)
}

type Options struct {
	Config *config.Config

	// Storage keeps tokens, the device id and the selected region.
	Storage storage.Store

	// SiteData is the web storage of the hosted login page. Defaults to an
	// in-memory store.
	SiteData storage.SiteData

	// HTTPClient is wrapped with request logging and the configured rate
	// limit. Defaults to a client with a 10 second timeout.
	HTTPClient *http.Client

	Presenter Presenter

	// Platform runs passkey ceremonies. Passkey operations fail with a
	// configuration error when nil.
	Platform      passkeys.Platform
	BridgeOptions []passkeys.Option

	Logger *slog.Logger

	// Dispatcher delivers session changes. Defaults to a private MainQueue.
	Dispatcher session.Dispatcher

	// Registerer receives the Manager's metrics. Nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// VerifyIDTokens checks the signature, audience and nonce of ID tokens
	// against the region's JWKS.
	VerifyIDTokens bool

	// Now is the clock used for token expiry and step-up checks.
	Now func() time.Time
}

// regionRuntime is everything bound to the selected region.
type regionRuntime struct {
	region  config.Region
	client  *authsdk.SDKClient
	builder *authurl.Builder
	bridge  *passkeys.Bridge
}

// Manager orchestrates one authentication session. It is safe for
// concurrent use.
type Manager struct {
	cfg            *config.Config
	store          storage.Store
	site           storage.SiteData
	hc             *http.Client
	presenter      Presenter
	platform       passkeys.Platform
	bridgeOpts     []passkeys.Option
	logger         *slog.Logger
	metrics        *Metrics
	verifyIDTokens bool
	now            func() time.Time

	session      *session.Store
	refreshGroup singleflight.Group
	refreshSeq   atomic.Uint64

	// commitMu serializes writing credentials to storage and the session
	// with clearing them.
	commitMu sync.Mutex

	mu             sync.Mutex
	generation     uint64
	state          State
	activity       Activity
	rt             *regionRuntime
	deviceID       string
	pending        *pendingAuth
	lastStrongAuth time.Time
	refreshTimer   *time.Timer
	closed         bool
}

// New validates opts and creates a Manager in StateUninitialized. Call
// Start to restore a session.
func New(opts Options) (*Manager, error) {
	const op = "new manager"

	if opts.Config == nil {
		return nil, autherr.Configuration(op, "config is required")
	}
	if opts.Storage == nil {
		return nil, autherr.Configuration(op, "storage is required")
	}

	cfg := *opts.Config
	if cfg.Region != nil {
		r := *cfg.Region
		cfg.Region = &r
	}
	cfg.Regions = slices.Clone(cfg.Regions)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, autherr.New(autherr.KindConfiguration, op, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slogx.New(slogx.Config{
			Service: "loginkit",
			Version: BuildVersion,
			Env:     cfg.Log.Env,
			Level:   cfg.Log.Level,
			Format:  cfg.Log.Format,
		})
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, autherr.New(autherr.KindConfiguration, op, err)
	}

	site := opts.SiteData
	if site == nil {
		site = storage.NewMemorySiteData()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		cfg:            &cfg,
		store:          opts.Storage,
		site:           site,
		hc:             newHTTPClient(opts.HTTPClient, &cfg),
		presenter:      opts.Presenter,
		platform:       opts.Platform,
		bridgeOpts:     opts.BridgeOptions,
		logger:         logger,
		metrics:        metrics,
		verifyIDTokens: opts.VerifyIDTokens,
		now:            now,
		session:        session.NewStore(opts.Dispatcher),
	}, nil
}

// Open creates a Manager and runs Start unless the configuration sets
// LateInit. A failed Start closes the Manager.
func Open(ctx context.Context, opts Options) (*Manager, error) {
	m, err := New(opts)
	if err != nil {
		return nil, err
	}
	if m.cfg.LateInit {
		return m, nil
	}
	if err := m.Start(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// newHTTPClient layers request logging and the rate limit over base.
func newHTTPClient(base *http.Client, cfg *config.Config) *http.Client {
	var hc http.Client
	if base != nil {
		hc = *base
	} else {
		hc.Timeout = 10 * time.Second
	}

	limit := httpx.DefaultLimit
	if cfg.RequestsPerSecond > 0 {
		limit = httpx.PerSecond(cfg.RequestsPerSecond, int(cfg.RequestsPerSecond))
	}

	// Logger comes from the request context so lines carry the operation.
	hc.Transport = slogx.NewTransport(httpx.NewRateLimitTransport(hc.Transport, limit), nil)
	return &hc
}

// Session returns the observable session. Only the Manager writes to it.
func (m *Manager) Session() *session.Store { return m.session }

// Metrics returns the Manager's collectors.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Status returns the lifecycle state, the activity of an authenticated
// session and the selected region key.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state, Activity: m.activity}
	if m.rt != nil {
		st.Region = m.rt.region.Key
	}
	return st
}

// DeviceID returns the identifier persisted for this installation. It is
// empty before Start.
func (m *Manager) DeviceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceID
}

// Close stops the refresh timer, cancels a pending login and stops the
// session dispatcher after it delivered pending changes.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopRefreshTimerLocked()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if pending != nil {
		pending.resolve(nil, canceled("close"))
	}
	m.session.Close()
}

// opContext tags ctx with the Manager's logger and op.
func (m *Manager) opContext(ctx context.Context, op string) (context.Context, *slog.Logger) {
	logger := m.logger.With("op", op)
	return slogx.WithContext(ctx, logger), logger
}

func (m *Manager) setState(ctx context.Context, s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	if s != StateAuthenticated {
		m.activity = ActivityStable
	}
	m.mu.Unlock()

	if prev != s {
		slogx.FromContext(ctx).InfoContext(ctx, "auth state changed", "from", prev.String(), "to", s.String())
	}
}

// setActivity marks what an authenticated session is doing. The returned
// func restores the previous activity unless another one took over.
func (m *Manager) setActivity(a Activity) (restore func()) {
	m.mu.Lock()
	prev := m.activity
	m.activity = a
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.activity == a {
			m.activity = prev
		}
		m.mu.Unlock()
	}
}

func (m *Manager) runtime(op string) (*regionRuntime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rt == nil {
		return nil, autherr.Configuration(op, "no region selected")
	}
	return m.rt, nil
}
