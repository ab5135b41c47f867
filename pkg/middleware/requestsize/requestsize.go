// Package requestsize caps the size of request bodies.
package requestsize

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/nimburion/docrest/pkg/server/router"
)

// Middleware enforces a maximum request body size in bytes. A declared
// Content-Length over the limit is refused before the handler runs; a body
// that turns out larger while being read fails the handler with 413.
// A non-positive maxBytes disables the middleware.
func Middleware(maxBytes int64) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			if maxBytes <= 0 || req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > maxBytes {
				return payloadTooLarge(c, maxBytes)
			}

			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			c.SetRequest(req)

			err := next(c)
			var maxBytesErr *http.MaxBytesError
			if err != nil && errors.As(err, &maxBytesErr) && !c.Response().Written() {
				return payloadTooLarge(c, maxBytes)
			}
			return err
		}
	}
}

func payloadTooLarge(c router.Context, maxBytes int64) error {
	return c.JSON(http.StatusRequestEntityTooLarge, map[string][]string{
		"message": {fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", maxBytes)},
	})
}
