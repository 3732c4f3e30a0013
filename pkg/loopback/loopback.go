// Package loopback receives authorization redirects on a local HTTP
// listener, for hosts that cannot register a custom URL scheme.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/httpx"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
)

const (
	DefaultAddr    = "127.0.0.1:0"
	DefaultPath    = "/oauth/callback"
	DefaultTimeout = 5 * time.Minute
)

var (
	ErrTimeout  = fmt.Errorf("loopback: no callback received: %w", autherr.ErrCanceled)
	ErrReplaced = fmt.Errorf("loopback: replaced by a newer login: %w", autherr.ErrCanceled)
)

const (
	pageDone = `<!doctype html><html><head><title>Signed in</title></head>` +
		`<body><p>You can close this window and return to the application.</p></body></html>`
	pageFailed = `<!doctype html><html><head><title>Sign in failed</title></head>` +
		`<body><p>Sign in did not complete. Return to the application to try again.</p></body></html>`
	pageIdle = `<!doctype html><html><head><title>No sign in pending</title></head>` +
		`<body><p>No sign in is waiting for this page.</p></body></html>`
)

// Opener shows an authorization URL to the user, typically by launching the
// system browser.
type Opener func(ctx context.Context, authURL string) error

// Server is an auth.Presenter that waits for the redirect on a loopback
// listener. It serves one login at a time; a new Present replaces the one
// waiting.
type Server struct {
	listener net.Listener
	srv      *http.Server
	path     string
	open     Opener
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	waiting *waiter
}

// waiter is a Present call waiting for its redirect.
type waiter struct {
	ch     chan string
	cancel context.CancelCauseFunc
}

type Option func(*Server)

func WithPath(path string) Option { return func(s *Server) { s.path = path } }

func WithOpener(o Opener) Option { return func(s *Server) { s.open = o } }

// WithTimeout bounds how long Present waits for the redirect.
func WithTimeout(d time.Duration) Option { return func(s *Server) { s.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// Listen binds addr and starts serving the callback path. An empty addr
// picks a free port on 127.0.0.1.
func Listen(addr string, opts ...Option) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		path:    DefaultPath,
		timeout: DefaultTimeout,
		logger:  slogx.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.open == nil {
		return nil, autherr.Configuration("loopback listen", "no opener configured")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("loopback: listen %s: %w", addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.path, s.handleCallback)
	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("loopback server stopped", "error", err)
		}
	}()

	s.logger.Debug("loopback server listening", "redirect_uri", s.RedirectURI())
	return s, nil
}

// RedirectURI is the callback URI to register with the provider and to set
// as config.Config.RedirectURI.
func (s *Server) RedirectURI() string {
	return "http://" + s.listener.Addr().String() + s.path
}

// Present opens authURL and returns the redirect URL the browser delivered.
// It satisfies auth.Presenter.
func (s *Server) Present(ctx context.Context, authURL, _ string) (string, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	w := &waiter{ch: make(chan string, 1), cancel: cancel}

	s.mu.Lock()
	prev := s.waiting
	s.waiting = w
	s.mu.Unlock()

	if prev != nil {
		s.logger.Debug("loopback login replaced by a newer one")
		prev.cancel(ErrReplaced)
	}

	defer func() {
		s.mu.Lock()
		if s.waiting == w {
			s.waiting = nil
		}
		s.mu.Unlock()
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.open(ctx, authURL); err != nil {
		return "", fmt.Errorf("loopback: open browser: %w", err)
	}

	select {
	case callbackURL := <-w.ch:
		return callbackURL, nil
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), ErrReplaced) {
			return "", ErrReplaced
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("loopback: %w", autherr.ErrCanceled)
	}
}

// Close stops the listener. A waiting Present returns when its context ends.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	waiting := s.waiting
	s.waiting = nil
	s.mu.Unlock()

	if waiting == nil {
		httpx.WriteHTML(w, http.StatusNotFound, pageIdle)
		return
	}

	callbackURL := s.RedirectURI()
	if r.URL.RawQuery != "" {
		callbackURL += "?" + r.URL.RawQuery
	}
	waiting.ch <- callbackURL

	if r.URL.Query().Get("error") != "" {
		httpx.WriteHTML(w, http.StatusOK, pageFailed)
		return
	}
	httpx.WriteHTML(w, http.StatusOK, pageDone)
}
