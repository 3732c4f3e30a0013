package fakeidp

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/httpx"
)

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "unknown access token")
		return
	}

	s.mu.Lock()
	resp := authsdk.UserResponse{
		ID:        u.ID,
		Sub:       u.ID,
		Email:     u.Email,
		Name:      u.Name,
		TenantID:  u.TenantID,
		TenantIDs: slices.Clone(u.Tenants),
		Tenants:   tenantsOf(u),
		Verified:  true,
		Roles: []authsdk.RoleResponse{
			{ID: "role-member", Key: "member", Name: "Member"},
		},
		Permissions: []string{"profile:read"},
	}
	if u.TenantID != "" {
		resp.ActiveTenant = &authsdk.TenantResponse{ID: u.TenantID, TenantID: u.TenantID, Name: u.TenantID}
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMeTenants(w http.ResponseWriter, r *http.Request) {
	u, ok := s.bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "unknown access token")
		return
	}

	s.mu.Lock()
	resp := authsdk.MeTenantsResponse{Tenants: tenantsOf(u)}
	if u.TenantID != "" {
		resp.ActiveTenant = &authsdk.TenantResponse{ID: u.TenantID, TenantID: u.TenantID, Name: u.TenantID}
	}
	s.mu.Unlock()

	httpx.WriteJSON(w, http.StatusOK, resp)
}

// handleSwitchTenant scopes tokens issued from now on to the requested
// tenant. Tokens already issued keep their tenant.
func (s *Server) handleSwitchTenant(w http.ResponseWriter, r *http.Request) {
	u, ok := s.bearer(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, "unknown access token")
		return
	}

	var req authsdk.SwitchTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest, "malformed body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(u.Tenants, req.TenantID) {
		writeError(w, http.StatusForbidden, authsdk.ErrorCodeAccessDenied, "not a member of the tenant")
		return
	}
	u.TenantID = req.TenantID
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSocialConfigs(w http.ResponseWriter, _ *http.Request) {
	configs := s.opts.Social
	if configs == nil {
		configs = []authsdk.SocialLoginConfig{}
	}
	httpx.WriteJSON(w, http.StatusOK, configs)
}

func (s *Server) handleCustomConfigs(w http.ResponseWriter, _ *http.Request) {
	providers := s.opts.Custom
	if providers == nil {
		providers = []authsdk.CustomSocialLoginConfig{}
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.CustomSocialLoginConfigsResponse{Providers: providers})
}

// tenantsOf must be called with mu held.
func tenantsOf(u *User) []authsdk.TenantResponse {
	out := make([]authsdk.TenantResponse, 0, len(u.Tenants))
	for _, t := range u.Tenants {
		out = append(out, authsdk.TenantResponse{ID: t, TenantID: t, Name: t})
	}
	return out
}
