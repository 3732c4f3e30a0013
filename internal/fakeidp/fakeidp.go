// Package fakeidp is an in-process identity provider for tests. It speaks
// the same endpoints the SDK client uses, issues real ES256 tokens, runs
// genuine WebAuthn ceremonies and verifies TOTP codes.
package fakeidp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/cryptox"
	"github.com/aussiebroadwan/loginkit/pkg/httpx"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Relying party defaults of the WebAuthn endpoints.
const (
	DefaultRPID     = "example.com"
	DefaultRPOrigin = "https://example.com"
)

// User is an account of the fake provider.
type User struct {
	ID       string
	Email    string
	Name     string
	TenantID string
	Tenants  []string

	// MFASecret enables TOTP. Code exchanges for the user then end in an MFA
	// challenge.
	MFASecret string

	credentials []webauthn.Credential
}

func (u *User) WebAuthnID() []byte                         { return []byte(u.ID) }
func (u *User) WebAuthnName() string                       { return u.Email }
func (u *User) WebAuthnDisplayName() string                { return u.Name }
func (u *User) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

type Options struct {
	ClientID string

	RPID     string
	RPOrigin string

	// AccessTTL is the lifetime of issued access tokens. Defaults to five
	// minutes.
	AccessTTL time.Duration

	// OpaqueAccessTokens issues random access tokens instead of JWTs.
	OpaqueAccessTokens bool

	Social []authsdk.SocialLoginConfig
	Custom []authsdk.CustomSocialLoginConfig

	Now func() time.Time
}

type authCode struct {
	user        *User
	redirectURI string
	challenge   string
	nonce       string
	amr         []string
	acr         string
}

type grant struct {
	user *User
	amr  []string
	acr  string
}

type failure struct {
	status int
	code   string
}

// Server is a running fake provider.
type Server struct {
	*httptest.Server

	opts     Options
	signer   *jwtx.Signer
	webauthn *webauthn.WebAuthn

	mu            sync.Mutex
	users         map[string]*User
	byEmail       map[string]*User
	defaultUser   *User
	codes         map[string]authCode
	refreshTokens map[string]grant
	accessTokens  map[string]*User
	mfaTokens     map[string]grant
	ceremonies    map[string]*webauthn.SessionData
	calls         map[string]int
	failures      map[string]failure
	holds         map[string]chan struct{}
	authorizeErr  string
	logouts       []string
}

// New starts a provider and stops it when the test ends.
func New(t testing.TB, opts Options) *Server {
	t.Helper()

	if opts.ClientID == "" {
		opts.ClientID = "test-client"
	}
	if opts.RPID == "" {
		opts.RPID = DefaultRPID
	}
	if opts.RPOrigin == "" {
		opts.RPOrigin = DefaultRPOrigin
	}
	if opts.AccessTTL == 0 {
		opts.AccessTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	signer, err := jwtx.NewSigner("fakeidp-key-001")
	if err != nil {
		t.Fatalf("fakeidp: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          opts.RPID,
		RPDisplayName: "Fake IdP",
		RPOrigins:     []string{opts.RPOrigin},
	})
	if err != nil {
		t.Fatalf("fakeidp: %v", err)
	}

	s := &Server{
		opts:          opts,
		signer:        signer,
		webauthn:      wa,
		users:         make(map[string]*User),
		byEmail:       make(map[string]*User),
		codes:         make(map[string]authCode),
		refreshTokens: make(map[string]grant),
		accessTokens:  make(map[string]*User),
		mfaTokens:     make(map[string]grant),
		ceremonies:    make(map[string]*webauthn.SessionData),
		calls:         make(map[string]int),
		failures:      make(map[string]failure),
		holds:         make(map[string]chan struct{}),
	}

	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("POST "+authsdk.PathToken, s.handleToken)
	mux.HandleFunc("POST "+authsdk.PathAuthorizeSilent, s.handleAuthorizeSilent)
	mux.HandleFunc("POST "+authsdk.PathMFAVerify, s.handleMFAVerify)
	mux.HandleFunc("POST "+authsdk.PathLogout, s.handleLogout)
	mux.HandleFunc("GET "+authsdk.PathJWKS, s.handleJWKS)

	mux.HandleFunc("GET "+authsdk.PathMe, s.handleMe)
	mux.HandleFunc("GET "+authsdk.PathMeTenants, s.handleMeTenants)
	mux.HandleFunc("PUT "+authsdk.PathSwitchTenant, s.handleSwitchTenant)

	mux.HandleFunc("GET "+authsdk.PathSocialLoginConfigs, s.handleSocialConfigs)
	mux.HandleFunc("GET "+authsdk.PathCustomSocialLoginConfigs, s.handleCustomConfigs)

	mux.HandleFunc("POST "+authsdk.PathWebAuthnPrelogin, s.handlePrelogin)
	mux.HandleFunc("POST "+authsdk.PathWebAuthnPostlogin, s.handlePostlogin)
	mux.HandleFunc("POST "+authsdk.PathWebAuthnDevices, s.handleRegisterDevice)
	mux.HandleFunc("POST "+authsdk.PathWebAuthnDevicesVerify, s.handleVerifyDevice)

	return s.intercept(mux)
}

// intercept counts calls and applies injected failures and holds.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		s.mu.Lock()
		s.calls[path]++
		f, failing := s.failures[path]
		hold := s.holds[path]
		s.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}

		if failing {
			writeError(w, f.status, f.code, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AddUser registers u. The first user is the one the hosted page signs in
// when no login hint is given.
func (s *Server) AddUser(u *User) *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.TenantID == "" && len(u.Tenants) > 0 {
		u.TenantID = u.Tenants[0]
	}
	s.users[u.ID] = u
	s.byEmail[strings.ToLower(u.Email)] = u
	if s.defaultUser == nil {
		s.defaultUser = u
	}
	return u
}

// Calls returns how often path was requested.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// TotalCalls returns the number of requests served on any path.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Fail makes every request to path answer with status and an OAuth error
// code until Recover is called.
func (s *Server) Fail(path string, status int, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = failure{status: status, code: code}
}

func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Hold parks requests to path until the returned func is called.
func (s *Server) Hold(path string) (release func()) {
	ch := make(chan struct{})

	s.mu.Lock()
	s.holds[path] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.holds, path)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// DenyAuthorization makes the hosted page redirect back with the given
// OAuth error instead of a code. An empty code restores normal behaviour.
func (s *Server) DenyAuthorization(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorizeErr = code
}

// IssueRefreshToken returns a refresh token for the user, as sign-up flows
// outside the SDK would.
func (s *Server) IssueRefreshToken(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newRefreshLocked(grant{user: s.users[userID], amr: []string{"pwd"}})
}

// IssueCode mints an authorization code the way a social provider redirect
// would. An empty verifier skips the PKCE check.
func (s *Server) IssueCode(userID, redirectURI, verifier string) string {
	challenge := ""
	if verifier != "" {
		challenge = cryptox.PKCEFromVerifier(verifier).Challenge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := mustToken()
	s.codes[code] = authCode{
		user:        s.users[userID],
		redirectURI: redirectURI,
		challenge:   challenge,
		amr:         []string{"social"},
	}
	return code
}

// Logouts returns the refresh tokens revoked through the logout endpoint.
func (s *Server) Logouts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.logouts))
	copy(out, s.logouts)
	return out
}

// Credentials returns the number of passkeys registered for the user.
func (s *Server) Credentials(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[userID]; u != nil {
		return len(u.credentials)
	}
	return 0
}

// ActiveTenant returns the tenant tokens for the user are scoped to.
func (s *Server) ActiveTenant(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.users[userID]; u != nil {
		return u.TenantID
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	httpx.WriteJSON(w, status, authsdk.ErrorResponse{Error: code, ErrorDescription: description})
}

func mustToken() string {
	tok, err := cryptox.RandomToken(cryptox.TokenSize128)
	if err != nil {
		panic(err)
	}
	return tok
}
