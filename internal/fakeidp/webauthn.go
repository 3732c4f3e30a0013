package fakeidp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/httpx"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var errUnknownUser = errors.New("fakeidp: unknown user handle")

func (s *Server) handlePrelogin(w http.ResponseWriter, _ *http.Request) {
	options, session, err := s.webauthn.BeginDiscoverableLogin()
	if err != nil {
		writeError(w, http.StatusInternalServerError, authsdk.ErrorCodeServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.ceremonies[session.Challenge] = session
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, options)
}

func (s *Server) handlePostlogin(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "invalid assertion")
		return
	}

	session, ok := s.takeCeremony(parsed.Response.CollectedClientData.Challenge)
	if !ok {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "unknown challenge")
		return
	}

	var user *User
	credential, err := s.webauthn.ValidateDiscoverableLogin(func(_, userHandle []byte) (webauthn.User, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		u, ok := s.users[string(userHandle)]
		if !ok {
			return nil, errUnknownUser
		}
		user = u
		return u, nil
	}, *session, parsed)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant, err.Error())
		return
	}

	s.mu.Lock()
	for i := range user.credentials {
		if bytes.Equal(user.credentials[i].ID, credential.ID) {
			user.credentials[i].Authenticator.SignCount = credential.Authenticator.SignCount
		}
	}
	s.mu.Unlock()

	s.issue(w, grant{user: user, amr: []string{"webauthn"}}, "", true)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := s.bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "unknown access token")
		return
	}

	s.mu.Lock()
	exclude := make([]protocol.CredentialDescriptor, 0, len(user.credentials))
	for _, c := range user.credentials {
		exclude = append(exclude, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
			Transport:    c.Transport,
		})
	}
	s.mu.Unlock()

	options, session, err := s.webauthn.BeginRegistration(user, webauthn.WithExclusions(exclude))
	if err != nil {
		writeError(w, http.StatusInternalServerError, authsdk.ErrorCodeServerError, err.Error())
		return
	}

	s.mu.Lock()
	s.ceremonies[session.Challenge] = session
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, options)
}

func (s *Server) handleVerifyDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := s.bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "unknown access token")
		return
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "invalid attestation")
		return
	}

	session, ok := s.takeCeremony(parsed.Response.CollectedClientData.Challenge)
	if !ok || !bytes.Equal(session.UserID, user.WebAuthnID()) {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "unknown challenge")
		return
	}

	credential, err := s.webauthn.CreateCredential(user, *session, parsed)
	if err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, err.Error())
		return
	}

	s.mu.Lock()
	user.credentials = append(user.credentials, *credential)
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"credentialId": base64.RawURLEncoding.EncodeToString(credential.ID),
	})
}

func (s *Server) takeCeremony(challenge string) (*webauthn.SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.ceremonies[challenge]
	delete(s.ceremonies, challenge)
	return session, ok
}
