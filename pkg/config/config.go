// Package config describes how a host configures the SDK: which regions it
// can authenticate against and which optional flows are enabled.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
)

// Mode tells single-region deployments apart from multi-region ones.
type Mode int

const (
	ModeSingle Mode = iota
	ModeMulti
)

// Defaults applied by Load and FromEnv.
const (
	DefaultPlatform          = "go"
	DefaultRefreshLeeway     = 20 * time.Second
	DefaultRequestsPerSecond = 10
)

// Region is one isolated deployment of the identity provider.
type Region struct {
	Key           string `yaml:"key" validate:"required"`
	BaseURL       string `yaml:"baseUrl" validate:"required,url"`
	ClientID      string `yaml:"clientId" validate:"required"`
	ApplicationID string `yaml:"applicationId,omitempty"`
}

// Host returns the host part of BaseURL, or "" when it does not parse.
func (r Region) Host() string {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Env    string `yaml:"env"`    // dev, prod
}

type Config struct {
	// KeychainService namespaces persisted credentials.
	KeychainService string `yaml:"keychainService" validate:"required"`

	// EmbeddedMode marks a host that renders the hosted login in its own web
	// view. The passkey message bridge only serves such a host.
	EmbeddedMode bool `yaml:"embeddedMode"`

	// LateInit makes auth.Open skip Start; the host calls it later.
	LateInit bool `yaml:"lateInit"`

	SocialLoginEnabled bool `yaml:"socialLoginEnabled"`

	// SSOEnabled allows logins through tenant-defined providers.
	SSOEnabled bool `yaml:"ssoEnabled"`

	// EnforceSocialPKCE adds a code challenge to social provider URLs that
	// support PKCE.
	EnforceSocialPKCE bool `yaml:"enforceSocialPkce"`

	// BundleID and Platform form the callback URI
	// "{bundleId}://{host}/{platform}/oauth/callback".
	BundleID string `yaml:"bundleId" validate:"required"`
	Platform string `yaml:"platform"`

	// RedirectURI overrides the generated callback URI, e.g. for a loopback
	// server.
	RedirectURI string `yaml:"redirectUri" validate:"omitempty,url"`

	Region  *Region  `yaml:"region,omitempty"`
	Regions []Region `yaml:"regions,omitempty" validate:"omitempty,dive"`

	// RefreshLeeway is how long before expiry the access token is refreshed.
	RefreshLeeway time.Duration `yaml:"refreshLeeway" validate:"gte=0"`

	RequestsPerSecond float64 `yaml:"requestsPerSecond" validate:"gte=0"`

	Log Log `yaml:"log"`
}

var (
	ErrNoRegion        = errors.New("config: either region or regions must be set")
	ErrAmbiguousRegion = errors.New("config: region and regions are mutually exclusive")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Mode reports whether the host must pick a region before authenticating.
func (c *Config) Mode() Mode {
	if len(c.Regions) > 0 {
		return ModeMulti
	}
	return ModeSingle
}

// AvailableRegions lists the regions the host can choose from.
func (c *Config) AvailableRegions() []Region {
	if c.Mode() == ModeMulti {
		out := make([]Region, len(c.Regions))
		copy(out, c.Regions)
		return out
	}
	if c.Region != nil {
		return []Region{*c.Region}
	}
	return nil
}

// FindRegion looks a region up by key.
func (c *Config) FindRegion(key string) (Region, bool) {
	for _, r := range c.AvailableRegions() {
		if r.Key == key {
			return r, true
		}
	}
	return Region{}, false
}

// ApplyDefaults fills optional fields left empty.
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = DefaultPlatform
	}
	if c.RefreshLeeway == 0 {
		c.RefreshLeeway = DefaultRefreshLeeway
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Region != nil && c.Region.Key == "" {
		c.Region.Key = "default"
	}
}

// Validate checks field constraints and the region shape.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch {
	case c.Region == nil && len(c.Regions) == 0:
		return ErrNoRegion
	case c.Region != nil && len(c.Regions) > 0:
		return ErrAmbiguousRegion
	}

	seen := make(map[string]struct{}, len(c.Regions))
	for _, r := range c.Regions {
		if _, dup := seen[r.Key]; dup {
			return fmt.Errorf("config: duplicate region key %q", r.Key)
		}
		seen[r.Key] = struct{}{}
	}

	return nil
}
