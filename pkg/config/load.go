package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML file, applies LOGINKIT_* environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a single-region config from the environment alone.
func FromEnv() (*Config, error) {
	cfg := Config{
		Region: &Region{
			Key:           getEnvOrDefault("LOGINKIT_REGION_KEY", "default"),
			BaseURL:       os.Getenv("LOGINKIT_BASE_URL"),
			ClientID:      os.Getenv("LOGINKIT_CLIENT_ID"),
			ApplicationID: os.Getenv("LOGINKIT_APPLICATION_ID"),
		},
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.KeychainService = getEnvOrDefault("LOGINKIT_KEYCHAIN_SERVICE", cfg.KeychainService)
	cfg.BundleID = getEnvOrDefault("LOGINKIT_BUNDLE_ID", cfg.BundleID)
	cfg.Platform = getEnvOrDefault("LOGINKIT_PLATFORM", cfg.Platform)
	cfg.RedirectURI = getEnvOrDefault("LOGINKIT_REDIRECT_URI", cfg.RedirectURI)
	cfg.EmbeddedMode = getEnvBoolOrDefault("LOGINKIT_EMBEDDED_MODE", cfg.EmbeddedMode)
	cfg.EnforceSocialPKCE = getEnvBoolOrDefault("LOGINKIT_ENFORCE_SOCIAL_PKCE", cfg.EnforceSocialPKCE)
	cfg.RefreshLeeway = getEnvDurationOrDefault("LOGINKIT_REFRESH_LEEWAY", cfg.RefreshLeeway)
	cfg.Log.Level = getEnvOrDefault("LOGINKIT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvOrDefault("LOGINKIT_LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Env = getEnvOrDefault("LOGINKIT_ENV", cfg.Log.Env)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "30s", "1m")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
