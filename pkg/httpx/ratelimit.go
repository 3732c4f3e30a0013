// Package httpx holds outbound HTTP plumbing shared by the SDK clients.
package httpx

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines the client-side request budget.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// DefaultLimit keeps a misbehaving host (a refresh loop, a stuck retry) from
// hammering the identity provider.
// Override with: RATELIMIT_CLIENT_REQUESTS, RATELIMIT_CLIENT_WINDOW_SEC, RATELIMIT_CLIENT_BURST
var DefaultLimit = RateLimitConfig{
	RequestsPerWindow: 600,
	Window:            time.Minute,
	Burst:             20,
}

func init() {
	DefaultLimit = ParseRateLimitFromEnv("CLIENT", DefaultLimit)
}

// ParseRateLimitFromEnv reads rate limit configuration from environment variables
// following the pattern RATELIMIT_{prefix}_{REQUESTS|WINDOW_SEC|BURST}.
func ParseRateLimitFromEnv(prefix string, defaultConfig RateLimitConfig) RateLimitConfig {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// PerSecond builds a config from a plain requests-per-second figure, as found
// in the SDK configuration file.
func PerSecond(rps float64, burst int) RateLimitConfig {
	if burst <= 0 {
		burst = 1
	}
	return RateLimitConfig{
		RequestsPerWindow: int(rps * 60),
		Window:            time.Minute,
		Burst:             burst,
	}
}

// RateLimitTransport delays outbound requests that exceed the budget. It
// waits instead of failing, so callers only see the request's own context
// deadline.
type RateLimitTransport struct {
	Base    http.RoundTripper
	limiter *rate.Limiter
}

// NewRateLimitTransport wraps base (or http.DefaultTransport when nil).
func NewRateLimitTransport(base http.RoundTripper, config RateLimitConfig) *RateLimitTransport {
	ratePerSecond := float64(config.RequestsPerWindow) / config.Window.Seconds()
	return &RateLimitTransport{
		Base:    base,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), config.Burst),
	}
}

func (t *RateLimitTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(r)
}
