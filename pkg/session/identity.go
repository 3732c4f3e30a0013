package session

import "time"

type Role struct {
	ID          string   `json:"id"`
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
}

type Tenant struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
}

// Identity is the decoded user of an authenticated session.
type Identity struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	ProfilePictureURL string    `json:"profilePictureUrl,omitempty"`
	Roles             []Role    `json:"roles,omitempty"`
	Permissions       []string  `json:"permissions,omitempty"`
	TenantID          string    `json:"tenantId"`
	TenantIDs         []string  `json:"tenantIds,omitempty"`
	ActiveTenant      *Tenant   `json:"activeTenant,omitempty"`
	Tenants           []Tenant  `json:"tenants,omitempty"`
	Verified          bool      `json:"verified"`
	SuperUser         bool      `json:"superUser"`
	AuthenticatedAt   time.Time `json:"authenticatedAt"`
}

// Clone returns a deep copy. A nil identity clones to nil.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}

	out := *i
	if i.Roles != nil {
		out.Roles = make([]Role, len(i.Roles))
		for n, r := range i.Roles {
			r.Permissions = cloneStrings(r.Permissions)
			out.Roles[n] = r
		}
	}
	out.Permissions = cloneStrings(i.Permissions)
	out.TenantIDs = cloneStrings(i.TenantIDs)
	if i.ActiveTenant != nil {
		t := *i.ActiveTenant
		out.ActiveTenant = &t
	}
	if i.Tenants != nil {
		out.Tenants = make([]Tenant, len(i.Tenants))
		copy(out.Tenants, i.Tenants)
	}
	return &out
}

// HasRole reports whether the identity carries the role key.
func (i *Identity) HasRole(key string) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r.Key == key {
			return true
		}
	}
	return false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
