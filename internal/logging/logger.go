// Package logging wraps log/slog behind a small context-aware interface.
package logging

import "context"

// Logger is a structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "pull served", "resource", "trackers", "records", 12)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
