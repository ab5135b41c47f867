// Package cors answers cross-origin requests and preflights for the resource
// routes.
package cors

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nimburion/docrest/pkg/server/router"
)

// Config configures the CORS middleware.
type Config struct {
	// AllowOrigins lists exact origins, "*" for any, or single-wildcard
	// patterns such as "https://*.example.com".
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultConfig returns the defaults for the document API.
func DefaultConfig() Config {
	return Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
}

// Middleware returns a router middleware implementing CORS. Preflight
// requests are answered here and never reach the handler.
func Middleware(cfg Config) router.MiddlewareFunc {
	cfg = normalize(cfg)

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			origin := req.Header.Get("Origin")
			if origin == "" {
				return next(c)
			}

			res := c.Response()
			if !cfg.allows(origin) {
				if isPreflight(req) {
					return c.NoContent(http.StatusForbidden)
				}
				return next(c)
			}

			h := res.Header()
			appendVary(h, "Origin")
			cfg.setOriginHeaders(h, origin)
			if len(cfg.ExposeHeaders) > 0 {
				h.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposeHeaders, ", "))
			}

			if !isPreflight(req) {
				return next(c)
			}
			appendVary(h, "Access-Control-Request-Method")
			appendVary(h, "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowMethods, ", "))
			if len(cfg.AllowHeaders) > 0 {
				h.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowHeaders, ", "))
			} else if requested := req.Header.Get("Access-Control-Request-Headers"); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(cfg.MaxAge/time.Second)))
			}
			return c.NoContent(http.StatusNoContent)
		}
	}
}

// Preflight is the handler mounted for OPTIONS routes. The middleware
// answers allowed preflights before it runs.
func Preflight(c router.Context) error {
	return c.NoContent(http.StatusNoContent)
}

func normalize(cfg Config) Config {
	defaults := DefaultConfig()
	if len(cfg.AllowMethods) == 0 {
		cfg.AllowMethods = defaults.AllowMethods
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = defaults.MaxAge
	}
	cfg.AllowOrigins = trimAll(cfg.AllowOrigins, strings.TrimSpace)
	cfg.AllowMethods = trimAll(cfg.AllowMethods, func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) })
	cfg.AllowHeaders = trimAll(cfg.AllowHeaders, strings.TrimSpace)
	cfg.ExposeHeaders = trimAll(cfg.ExposeHeaders, strings.TrimSpace)
	return cfg
}

func trimAll(values []string, fn func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = fn(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isPreflight(req *http.Request) bool {
	return req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != ""
}

func (cfg Config) allows(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	for _, allowed := range cfg.AllowOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || wildcardMatch(allowed, origin) {
			return true
		}
	}
	return false
}

// wildcardMatch accepts patterns with exactly one "*".
func wildcardMatch(pattern, value string) bool {
	if strings.Count(pattern, "*") != 1 {
		return false
	}
	prefix, suffix, _ := strings.Cut(pattern, "*")
	return len(value) > len(prefix)+len(suffix) &&
		strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
}

// A literal "*" is never echoed with credentials.
func (cfg Config) setOriginHeaders(h http.Header, origin string) {
	if cfg.AllowCredentials {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		return
	}
	for _, allowed := range cfg.AllowOrigins {
		if allowed == "*" {
			h.Set("Access-Control-Allow-Origin", "*")
			return
		}
	}
	h.Set("Access-Control-Allow-Origin", origin)
}

func appendVary(h http.Header, value string) {
	current := h.Get("Vary")
	if current == "" {
		h.Set("Vary", value)
		return
	}
	for _, part := range strings.Split(current, ",") {
		if strings.EqualFold(strings.TrimSpace(part), value) {
			return
		}
	}
	h.Set("Vary", current+", "+value)
}
