// Package router provides an abstraction layer for HTTP routing.
// Implementations wrap gin-gonic and gorilla/mux behind the same interfaces so
// controllers can register route tables without knowing the engine.
package router

import (
	"net/http"
	"strings"
)

// Router defines the interface for HTTP routing.
type Router interface {
	GET(path string, handler HandlerFunc, middleware ...MiddlewareFunc)
	POST(path string, handler HandlerFunc, middleware ...MiddlewareFunc)
	PUT(path string, handler HandlerFunc, middleware ...MiddlewareFunc)
	DELETE(path string, handler HandlerFunc, middleware ...MiddlewareFunc)

	// Handle registers a handler for an arbitrary method.
	Handle(method, path string, handler HandlerFunc, middleware ...MiddlewareFunc)

	// Group creates a route group with common prefix and middleware
	Group(prefix string, middleware ...MiddlewareFunc) Router

	// Use applies middleware to all routes registered afterwards
	Use(middleware ...MiddlewareFunc)

	// ServeHTTP implements http.Handler
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// HandlerFunc is the function signature for route handlers.
type HandlerFunc func(Context) error

// MiddlewareFunc wraps a HandlerFunc and returns a new HandlerFunc.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

// Context provides access to request and response in a router-agnostic way.
type Context interface {
	Request() *http.Request
	SetRequest(r *http.Request)
	Response() ResponseWriter
	SetResponse(w ResponseWriter)

	// Param returns a URL parameter by name (e.g., /users/:id)
	Param(name string) string

	// Query returns a query parameter by name (e.g., /users?name=john)
	Query(name string) string

	// Body returns the raw request body. The body is read once and cached,
	// so repeated calls return the same bytes.
	Body() ([]byte, error)

	// JSON sends a JSON response with the given status code
	JSON(code int, v interface{}) error

	// String sends a plain text response with the given status code
	String(code int, s string) error

	// Blob sends raw bytes with the given content type
	Blob(code int, contentType string, data []byte) error

	// NoContent writes only the status line
	NoContent(code int) error

	Get(key string) interface{}
	Set(key string, value interface{})
}

// ResponseWriter wraps http.ResponseWriter to track response status.
type ResponseWriter interface {
	http.ResponseWriter
	Status() int
	Written() bool
}

// Route is one entry of a route table.
type Route struct {
	Name       string
	Method     string
	Path       string
	Handler    HandlerFunc
	Middleware []MiddlewareFunc
}

// RouteKey is the context key under which Mount stores the path pattern of
// the matched route. Router-wide middleware can read it once the handler
// returns.
const RouteKey = "router.route"

// Mount registers every route of the table on r, in order.
func Mount(r Router, routes []Route) {
	for _, route := range routes {
		pattern, handler := route.Path, route.Handler
		r.Handle(route.Method, route.Path, func(c Context) error {
			c.Set(RouteKey, pattern)
			return handler(c)
		}, route.Middleware...)
	}
}

// RoutePattern returns the pattern stored by Mount, falling back to the
// request path for routes registered directly.
func RoutePattern(c Context) string {
	if pattern, ok := c.Get(RouteKey).(string); ok && pattern != "" {
		return pattern
	}
	return c.Request().URL.Path
}

// PathParams returns the names of the ":name" segments of a route path.
func PathParams(path string) []string {
	var out []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			out = append(out, seg[1:])
		}
	}
	return out
}

// OpenAPIPath converts ":name" segments into the "{name}" form.
func OpenAPIPath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}
