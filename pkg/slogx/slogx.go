// Package slogx builds the SDK's structured loggers and carries them through
// contexts and HTTP transports.
package slogx

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Service string
	Version string
	Env     string // e.g. "dev", "prod"
	Level   string // e.g. "debug", "info", "warn", "error"
	Format  string // e.g. "json", "text"

	// Output defaults to os.Stderr so CLI output on stdout stays clean.
	Output io.Writer

	// SetDefault installs the logger as slog's default.
	SetDefault bool
}

// New returns a configured slog.Logger instance.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		AddSource: cfg.Env == "dev",
		Level:     ParseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler).With("service", cfg.Service)
	if cfg.Version != "" {
		logger = logger.With("version", cfg.Version)
	}
	if cfg.Env != "" {
		logger = logger.With("env", cfg.Env)
	}

	if cfg.SetDefault {
		slog.SetDefault(logger)
	}
	return logger
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a string to slog.Level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(lvl) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
