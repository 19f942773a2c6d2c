// Package logctx carries a structured logger through a request via
// context.Context instead of a back-reference held by every component,
// per spec §9's redesign note on cyclic object graphs.
package logctx

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// New builds the root logger for the process, honoring the configured level.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		Level(lvl).
		With().Timestamp().Logger()
}

// With attaches a logger to ctx, returning the derived context.
func With(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// From extracts the logger attached to ctx, falling back to a disabled
// logger when none was attached.
func From(ctx context.Context) zerolog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return log
	}
	return zerolog.Nop()
}

// WithRequest returns a derived context carrying a logger scoped to one
// request/conversation, so every downstream component logs with the same
// correlation fields without holding a pointer back to the orchestrator.
func WithRequest(ctx context.Context, requestID, deviceID, conversationID string) context.Context {
	log := From(ctx).With().
		Str("request_id", requestID).
		Str("device_id", deviceID).
		Str("conversation_id", conversationID).
		Logger()
	return With(ctx, log)
}
