// Package requestid assigns every request an identifier that follows it into
// logs, audit records and the response headers.
package requestid

import (
	"context"

	"github.com/google/uuid"

	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/server/router"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID keeps the caller's X-Request-ID or generates a UUID, then
// stores it on the request context and echoes it in the response.
func RequestID() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			c.Set(string(logger.RequestIDKey), requestID)
			c.Response().Header().Set(RequestIDHeader, requestID)
			ctx := context.WithValue(c.Request().Context(), logger.RequestIDKey, requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// GetRequestID extracts the request ID from a context.
func GetRequestID(ctx context.Context) string {
	return logger.RequestIDFromContext(ctx)
}
