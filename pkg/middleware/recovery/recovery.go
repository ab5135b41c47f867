// Package recovery turns handler panics into 500 responses.
package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/nimburion/docrest/pkg/middleware/requestid"
	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Recovery recovers from panics in the wrapped handlers, logs the panic with
// its stack trace and answers 500 unless a response was already started.
func Recovery(log logger.Logger) router.MiddlewareFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				requestID := requestid.GetRequestID(c.Request().Context())
				log.Error("panic recovered",
					"request_id", requestID,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				if c.Response().Written() {
					return
				}
				body := map[string]interface{}{
					"message":    []string{"an unexpected error occurred"},
					"request_id": requestID,
				}
				if writeErr := c.JSON(http.StatusInternalServerError, body); writeErr != nil {
					log.Error("failed to send error response", "request_id", requestID, "error", writeErr)
				}
				err = nil
			}()

			return next(c)
		}
	}
}
