package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// NewContext stores l as the request logger.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With derives the request logger with extra fields and stores it back.
func With(ctx context.Context, fields ...any) context.Context {
	return NewContext(ctx, From(ctx).With(fields...))
}

// From returns the request logger, or the process default.
func From(ctx context.Context) *slog.Logger {
	return FromOr(ctx, LoggerWrapper())
}

// FromOr returns the request logger, or fallback when none was stored.
func FromOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	if fallback == nil {
		return LoggerWrapper()
	}
	return fallback
}
