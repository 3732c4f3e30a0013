package fakeidp

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/cryptox"
	"github.com/aussiebroadwan/loginkit/pkg/httpx"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
)

// handleAuthorize plays the hosted login page: it signs in the hinted user,
// or the default one, and redirects back with a code.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "redirect_uri is required")
		return
	}
	if q.Get("client_id") != s.opts.ClientID {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidClient, "unknown client")
		return
	}

	back := redirect.Query()
	back.Set("state", q.Get("state"))

	s.mu.Lock()
	deny := s.authorizeErr
	user := s.defaultUser
	if hint := q.Get("login_hint"); hint != "" {
		user = s.byEmail[strings.ToLower(hint)]
	}

	switch {
	case deny != "":
		back.Set("error", deny)
	case user == nil:
		back.Set("error", authsdk.ErrorCodeAccessDenied)
		back.Set("error_description", "unknown user")
	default:
		code := mustToken()
		ac := authCode{
			user:        user,
			redirectURI: redirect.String(),
			challenge:   q.Get("code_challenge"),
			nonce:       q.Get("nonce"),
			amr:         []string{"pwd"},
		}
		if q.Get("acr_values") == jwtx.ACRMultiFactor {
			ac.amr = []string{"pwd", "mfa"}
			ac.acr = jwtx.ACRMultiFactor
		}
		s.codes[code] = ac
		back.Set("code", code)
	}
	s.mu.Unlock()

	redirect.RawQuery = back.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req authsdk.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "malformed body")
		return
	}
	if req.ClientID != s.opts.ClientID {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidClient, "unknown client")
		return
	}

	switch req.GrantType {
	case "authorization_code":
		s.exchangeCode(w, req)
	case "refresh_token":
		s.refresh(w, req.RefreshToken)
	default:
		writeError(w, http.StatusBadRequest, "unsupported_grant_type", req.GrantType)
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, req authsdk.TokenRequest) {
	s.mu.Lock()
	ac, ok := s.codes[req.Code]
	delete(s.codes, req.Code)
	s.mu.Unlock()

	switch {
	case !ok || ac.user == nil:
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "unknown code")
		return
	case ac.redirectURI != req.RedirectURI:
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "redirect_uri mismatch")
		return
	case ac.challenge != "" && cryptox.PKCEFromVerifier(req.CodeVerifier).Challenge != ac.challenge:
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "code_verifier mismatch")
		return
	}

	g := grant{user: ac.user, amr: ac.amr, acr: ac.acr}
	if ac.user.MFASecret != "" && ac.acr == "" {
		s.challengeMFA(w, g)
		return
	}
	s.issue(w, g, ac.nonce, true)
}

func (s *Server) refresh(w http.ResponseWriter, token string) {
	s.mu.Lock()
	g, ok := s.refreshTokens[token]
	delete(s.refreshTokens, token)
	s.mu.Unlock()

	if !ok || g.user == nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "unknown refresh token")
		return
	}
	s.issue(w, g, "", true)
}

func (s *Server) handleAuthorizeSilent(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SilentAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "malformed body")
		return
	}

	s.mu.Lock()
	g, ok := s.refreshTokens[req.RefreshToken]
	s.mu.Unlock()

	if !ok || g.user == nil {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "unknown refresh token")
		return
	}
	// The caller keeps its refresh token.
	s.issue(w, g, "", false)
}

func (s *Server) challengeMFA(w http.ResponseWriter, g grant) {
	s.mu.Lock()
	token := mustToken()
	s.mfaTokens[token] = g
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		MFARequired:   true,
		MFAToken:      token,
		MFAStrategies: []string{"authenticator-app"},
	})
}

func (s *Server) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFAVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "malformed body")
		return
	}

	s.mu.Lock()
	g, ok := s.mfaTokens[req.MFAToken]
	s.mu.Unlock()

	if !ok || g.user == nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "unknown mfa token")
		return
	}
	if !totp.Validate(req.Value, g.user.MFASecret) {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "invalid code")
		return
	}

	s.mu.Lock()
	delete(s.mfaTokens, req.MFAToken)
	s.mu.Unlock()

	g.amr = append(slices.Clone(g.amr), "otp", "mfa")
	s.issue(w, g, "", true)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.bearer(r); !ok {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "missing bearer token")
		return
	}

	var req authsdk.LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	delete(s.refreshTokens, req.RefreshToken)
	s.logouts = append(s.logouts, req.RefreshToken)
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.signer.JWKS())
}

// issue mints an access token, an ID token and, when rotate is set, a new
// refresh token for g.
func (s *Server) issue(w http.ResponseWriter, g grant, nonce string, rotate bool) {
	now := s.opts.Now()

	s.mu.Lock()
	tenant := g.user.TenantID
	tenants := slices.Clone(g.user.Tenants)
	s.mu.Unlock()

	base := jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.URL,
			Subject:   g.user.ID,
			Audience:  jwt.ClaimStrings{s.opts.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.AccessTTL)),
		},
		Email:     g.user.Email,
		Name:      g.user.Name,
		TenantID:  tenant,
		TenantIDs: tenants,
		AMR:       g.amr,
		ACR:       g.acr,
		AuthTime:  jwt.NewNumericDate(now),
	}

	access := base
	access.ID = mustToken()
	accessToken := access.ID
	if !s.opts.OpaqueAccessTokens {
		var err error
		if accessToken, err = s.signer.Sign(&access); err != nil {
			writeError(w, http.StatusInternalServerError, authsdk.ErrorCodeServerError, err.Error())
			return
		}
	}

	id := base
	id.ID = mustToken()
	id.Nonce = nonce
	idToken, err := s.signer.Sign(&id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, authsdk.ErrorCodeServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.accessTokens[accessToken] = g.user
	refresh := ""
	if rotate {
		refresh = s.newRefreshLocked(g)
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refresh,
		IDToken:      idToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.opts.AccessTTL.Seconds()),
	})
}

// newRefreshLocked must be called with mu held.
func (s *Server) newRefreshLocked(g grant) string {
	token := mustToken()
	s.refreshTokens[token] = g
	return token
}

// bearer resolves the user of the request's access token.
func (s *Server) bearer(r *http.Request) (*User, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.accessTokens[token]
	return u, ok
}
