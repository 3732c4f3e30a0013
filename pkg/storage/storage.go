// Package storage defines the secure key-value store the SDK persists tokens
// in, and the site-scoped web storage shared with the hosted login page.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: not found")

// Keys written by the SDK.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyDeviceID     = "deviceId"
	KeyRegion       = "region"
)

// Store is an opaque secure key-value store. Drivers must be safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, key, value string) error

	// Get returns ErrNotFound when key has never been saved or was cleared.
	Get(ctx context.Context, key string) (string, error)

	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error
}

// SiteData is the web storage (cookies, local storage) of the embedded web
// surface, scoped by domain.
type SiteData interface {
	Get(ctx context.Context, domain, key string) (string, error)
	Set(ctx context.Context, domain, key, value string) error

	// ClearSite drops everything stored for domain.
	ClearSite(ctx context.Context, domain string) error
}

// GetOptional is Get with ErrNotFound mapped to "".
func GetOptional(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
