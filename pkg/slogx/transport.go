package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/idx"
)

// RequestIDHeader is set on every outbound request that lacks one.
const RequestIDHeader = "X-Request-ID"

// Transport logs outbound requests at debug level. Query strings are never
// logged since they can carry authorization codes.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (or http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	return &Transport{Base: base, Logger: logger}
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	logger := t.Logger
	if logger == nil {
		logger = FromContext(r.Context())
	}

	reqID := r.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.NewRequestID().String()
		r = r.Clone(r.Context())
		r.Header.Set(RequestIDHeader, reqID)
	}

	start := time.Now()
	resp, err := base.RoundTrip(r)
	attrs := []any{
		"req_id", reqID,
		"method", r.Method,
		"host", r.URL.Host,
		"path", r.URL.Path,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if err != nil {
		logger.Debug("http_request_failed", append(attrs, "error", err)...)
		return nil, err
	}

	logger.Debug("http_request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
