package auth

import (
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/authsdk"
	"github.com/aussiebroadwan/loginkit/pkg/jwtx"
	"github.com/aussiebroadwan/loginkit/pkg/session"
)

// identityFrom builds the session identity from the user endpoint, falling
// back to access token claims for fields the endpoint left empty.
func identityFrom(u *authsdk.UserResponse, claims *jwtx.Claims, now time.Time) *session.Identity {
	id := &session.Identity{
		ID:                u.ID,
		Email:             u.Email,
		Name:              u.Name,
		ProfilePictureURL: u.ProfilePictureURL,
		Permissions:       u.Permissions,
		TenantID:          u.TenantID,
		TenantIDs:         u.TenantIDs,
		Verified:          u.Verified,
		SuperUser:         u.SuperUser,
		AuthenticatedAt:   now,
	}
	if id.ID == "" {
		id.ID = u.Sub
	}

	for _, r := range u.Roles {
		id.Roles = append(id.Roles, session.Role{
			ID:          r.ID,
			Key:         r.Key,
			Name:        r.Name,
			Permissions: r.Permissions,
		})
	}
	for _, t := range u.Tenants {
		id.Tenants = append(id.Tenants, tenantFrom(t))
	}
	if u.ActiveTenant != nil {
		t := tenantFrom(*u.ActiveTenant)
		id.ActiveTenant = &t
	}

	if claims == nil {
		return id
	}

	if id.ID == "" {
		id.ID = claims.Subject
	}
	if id.Email == "" {
		id.Email = claims.Email
	}
	if id.Name == "" {
		id.Name = claims.Name
	}
	if id.ProfilePictureURL == "" {
		id.ProfilePictureURL = claims.ProfilePictureURL
	}
	if id.TenantID == "" {
		id.TenantID = claims.TenantID
	}
	if len(id.TenantIDs) == 0 {
		id.TenantIDs = claims.TenantIDs
	}
	if len(id.Permissions) == 0 {
		id.Permissions = claims.Permissions
	}
	if len(id.Roles) == 0 {
		for _, key := range claims.Roles {
			id.Roles = append(id.Roles, session.Role{Key: key, Name: key})
		}
	}
	if at := claims.AuthenticatedAt(); !at.IsZero() {
		id.AuthenticatedAt = at
	}

	return id
}

func tenantFrom(t authsdk.TenantResponse) session.Tenant {
	return session.Tenant{ID: t.ID, TenantID: t.TenantID, Name: t.Name}
}
