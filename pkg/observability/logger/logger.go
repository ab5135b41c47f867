// Package logger is the structured logging collaborator used across docrest.
package logger

import (
	"context"
)

// Logger is a leveled, key-value structured log sink.
// Implementations must never panic or surface errors back to the caller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that always carries the given key-value pairs.
	With(args ...any) Logger

	// WithContext returns a child logger enriched with request-scoped fields (request ID).
	WithContext(ctx context.Context) Logger
}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                  {}
func (nopLogger) Info(string, ...any)                   {}
func (nopLogger) Warn(string, ...any)                   {}
func (nopLogger) Error(string, ...any)                  {}
func (n nopLogger) With(...any) Logger                  { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
