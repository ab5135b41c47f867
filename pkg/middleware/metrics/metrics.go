// Package metrics records Prometheus HTTP metrics for every request.
package metrics

import (
	"time"

	"github.com/nimburion/docrest/pkg/observability/metrics"
	"github.com/nimburion/docrest/pkg/server/router"
)

// unmatchedPath labels requests that did not reach a route table entry, so
// arbitrary URLs cannot blow up label cardinality.
const unmatchedPath = "unmatched"

// Metrics records request duration, request count and in-flight requests on
// reg. Requests are labelled with the matched route pattern.
func Metrics(reg *metrics.Registry) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			reg.IncrementInFlight()
			defer reg.DecrementInFlight()

			start := time.Now()
			err := next(c)

			path := unmatchedPath
			if _, ok := c.Get(router.RouteKey).(string); ok {
				path = router.RoutePattern(c)
			}
			reg.ObserveHTTP(c.Request().Method, path, c.Response().Status(), time.Since(start))
			return err
		}
	}
}
