package loopback_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/internal/fakeidp"
	"github.com/aussiebroadwan/loginkit/pkg/auth"
	"github.com/aussiebroadwan/loginkit/pkg/autherr"
	"github.com/aussiebroadwan/loginkit/pkg/config"
	"github.com/aussiebroadwan/loginkit/pkg/loopback"
	"github.com/aussiebroadwan/loginkit/pkg/session"
	"github.com/aussiebroadwan/loginkit/pkg/slogx"
	"github.com/aussiebroadwan/loginkit/pkg/storage"
	"github.com/stretchr/testify/require"
)

// follow plays the browser: it loads the URL in the background, follows
// redirects and reports the page it landed on. The page outlives Present.
func follow(pages chan<- string) loopback.Opener {
	return func(_ context.Context, authURL string) error {
		go func() {
			req, err := http.NewRequest(http.MethodGet, authURL, nil)
			if err != nil {
				pages <- err.Error()
				return
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				pages <- err.Error()
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			pages <- string(body)
		}()
		return nil
	}
}

func listen(t *testing.T, opts ...loopback.Option) *loopback.Server {
	t.Helper()

	s, err := loopback.Listen("", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func noop(context.Context, string) error { return nil }

func TestPresentReceivesCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		page  string
	}{
		{"code", "code=abc&state=s1", "close this window"},
		{"provider error", "error=access_denied&state=s1", "did not complete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pages := make(chan string, 1)
			var s *loopback.Server
			s = listen(t, loopback.WithOpener(func(ctx context.Context, _ string) error {
				return follow(pages)(ctx, s.RedirectURI()+"?"+tt.query)
			}))
			require.True(t, strings.HasPrefix(s.RedirectURI(), "http://127.0.0.1:"))
			require.True(t, strings.HasSuffix(s.RedirectURI(), loopback.DefaultPath))

			got, err := s.Present(context.Background(), "https://idp.example/authorize", "http")
			require.NoError(t, err)
			require.Equal(t, s.RedirectURI()+"?"+tt.query, got)
			require.Contains(t, <-pages, tt.page)
		})
	}
}

func TestCallbackWithoutLogin(t *testing.T) {
	t.Parallel()

	s := listen(t, loopback.WithOpener(noop))

	resp, err := http.Get(s.RedirectURI() + "?code=stray")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestPresentCanceled(t *testing.T) {
	t.Parallel()

	s := listen(t, loopback.WithOpener(noop))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Present(ctx, "https://idp.example/authorize", "http")
	require.True(t, autherr.IsCanceled(err))
}

func TestPresentTimeout(t *testing.T) {
	t.Parallel()

	s := listen(t, loopback.WithOpener(noop), loopback.WithTimeout(50*time.Millisecond))

	_, err := s.Present(context.Background(), "https://idp.example/authorize", "http")
	require.ErrorIs(t, err, loopback.ErrTimeout)
	require.True(t, autherr.IsCanceled(err))
}

func TestPresentReplacesWaitingLogin(t *testing.T) {
	t.Parallel()

	opened := make(chan struct{}, 2)
	s := listen(t, loopback.WithOpener(func(context.Context, string) error {
		opened <- struct{}{}
		return nil
	}))

	first := make(chan error, 1)
	go func() {
		_, err := s.Present(context.Background(), "https://idp.example/authorize?n=1", "http")
		first <- err
	}()
	<-opened

	second := make(chan string, 1)
	go func() {
		got, err := s.Present(context.Background(), "https://idp.example/authorize?n=2", "http")
		if err != nil {
			got = err.Error()
		}
		second <- got
	}()
	<-opened

	err := <-first
	require.ErrorIs(t, err, loopback.ErrReplaced)
	require.True(t, autherr.IsCanceled(err))

	resp, err := http.Get(s.RedirectURI() + "?code=abc&state=s2")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, s.RedirectURI()+"?code=abc&state=s2", <-second)
}

func TestListenRequiresOpener(t *testing.T) {
	t.Parallel()

	_, err := loopback.Listen("")
	require.True(t, autherr.IsConfiguration(err))
}

func TestManagerLoginThroughLoopback(t *testing.T) {
	t.Parallel()

	idp := fakeidp.New(t, fakeidp.Options{})
	idp.AddUser(&fakeidp.User{ID: "user-1", Email: "alice@example.com", Tenants: []string{"t1"}})

	pages := make(chan string, 1)
	s := listen(t, loopback.WithOpener(follow(pages)))

	mgr, err := auth.New(auth.Options{
		Config: &config.Config{
			KeychainService: "loginkit-test",
			BundleID:        "com.example.cli",
			RedirectURI:     s.RedirectURI(),
			Region:          &config.Region{Key: "au", BaseURL: idp.URL, ClientID: "test-client"},
		},
		Storage:    storage.NewMemory(),
		SiteData:   storage.NewMemorySiteData(),
		Presenter:  s,
		Logger:     slogx.Discard(),
		Dispatcher: session.Inline(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	user, err := mgr.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Contains(t, <-pages, "close this window")
}

func TestManagerLoginReplacesAbandonedLogin(t *testing.T) {
	t.Parallel()

	idp := fakeidp.New(t, fakeidp.Options{})
	idp.AddUser(&fakeidp.User{ID: "user-1", Email: "alice@example.com", Tenants: []string{"t1"}})

	// The first browser window is abandoned, the second one completes.
	var opens atomic.Int32
	abandoned := make(chan struct{})
	pages := make(chan string, 1)
	s := listen(t, loopback.WithOpener(func(ctx context.Context, authURL string) error {
		if opens.Add(1) == 1 {
			close(abandoned)
			return nil
		}
		return follow(pages)(ctx, authURL)
	}))

	mgr, err := auth.New(auth.Options{
		Config: &config.Config{
			KeychainService: "loginkit-test",
			BundleID:        "com.example.cli",
			RedirectURI:     s.RedirectURI(),
			Region:          &config.Region{Key: "au", BaseURL: idp.URL, ClientID: "test-client"},
		},
		Storage:    storage.NewMemory(),
		SiteData:   storage.NewMemorySiteData(),
		Presenter:  s,
		Logger:     slogx.Discard(),
		Dispatcher: session.Inline(),
	})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)

	ctx := context.Background()
	require.NoError(t, mgr.Start(ctx))

	first := make(chan error, 1)
	go func() {
		_, err := mgr.Login(ctx)
		first <- err
	}()
	<-abandoned

	user, err := mgr.Login(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Contains(t, <-pages, "close this window")

	require.True(t, autherr.IsCanceled(<-first))
	require.True(t, mgr.Session().IsAuthenticated())
}
