package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithOperation tags the context logger with the SDK operation being run.
func WithOperation(ctx context.Context, op string) context.Context {
	return WithContext(ctx, FromContext(ctx).With("op", op))
}
