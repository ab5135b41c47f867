// Package logging emits one structured log entry per HTTP request.
package logging

import (
	"strings"
	"time"

	"github.com/nimburion/docrest/pkg/middleware/requestid"
	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Mode defines logging verbosity for matching request paths.
type Mode string

// Logging mode constants
const (
	// ModeOff disables request logging
	ModeOff Mode = "off"
	// ModeMinimal logs only the completion entry
	ModeMinimal Mode = "minimal"
	// ModeFull also logs when the request starts
	ModeFull Mode = "full"
)

// Log field name constants
const (
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldRoute      = "route"
	FieldStatus     = "status"
	FieldDurationMS = "duration_ms"
	FieldRemoteAddr = "remote_addr"
	FieldError      = "error"
)

// Config configures request logging middleware behavior.
type Config struct {
	Enabled              bool
	LogStart             bool
	ExcludedPathPrefixes []string
	PathPolicies         []PathPolicy
}

// PathPolicy configures a logging mode for a path prefix.
type PathPolicy struct {
	Prefix string
	Mode   Mode
}

// DefaultConfig logs every request in full except the metrics endpoint.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		ExcludedPathPrefixes: []string{"/metrics"},
	}
}

// Logging creates middleware with default configuration.
func Logging(log logger.Logger) router.MiddlewareFunc {
	return WithConfig(log, DefaultConfig())
}

// WithConfig creates request logging middleware with custom configuration.
func WithConfig(log logger.Logger, cfg Config) router.MiddlewareFunc {
	if log == nil {
		log = logger.Nop()
	}
	for i := range cfg.PathPolicies {
		cfg.PathPolicies[i].Mode = parseMode(cfg.PathPolicies[i].Mode)
	}

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			mode := cfg.modeForPath(req.URL.Path)
			if mode == ModeOff {
				return next(c)
			}

			start := time.Now()
			reqLog := log.WithContext(req.Context())
			if cfg.LogStart && mode == ModeFull {
				reqLog.Info("request started",
					FieldMethod, req.Method,
					FieldPath, req.URL.Path,
					FieldRemoteAddr, req.RemoteAddr,
				)
			}

			err := next(c)

			fields := []any{
				FieldRequestID, requestid.GetRequestID(c.Request().Context()),
				FieldMethod, req.Method,
				FieldPath, req.URL.Path,
				FieldRoute, router.RoutePattern(c),
				FieldStatus, c.Response().Status(),
				FieldDurationMS, time.Since(start).Milliseconds(),
				FieldRemoteAddr, req.RemoteAddr,
			}
			if err != nil {
				log.Error("request failed", append(fields, FieldError, err.Error())...)
				return err
			}
			log.Info("request completed", fields...)
			return nil
		}
	}
}

func (c Config) modeForPath(path string) Mode {
	if !c.Enabled {
		return ModeOff
	}
	for _, prefix := range c.ExcludedPathPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return ModeOff
		}
	}

	bestLen := -1
	bestMode := ModeFull
	for _, policy := range c.PathPolicies {
		if strings.TrimSpace(policy.Prefix) == "" {
			continue
		}
		if strings.HasPrefix(path, policy.Prefix) && len(policy.Prefix) > bestLen {
			bestLen = len(policy.Prefix)
			bestMode = policy.Mode
		}
	}
	return bestMode
}

func parseMode(mode Mode) Mode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(ModeOff):
		return ModeOff
	case string(ModeMinimal):
		return ModeMinimal
	default:
		return ModeFull
	}
}
