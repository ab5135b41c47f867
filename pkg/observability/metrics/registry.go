// Package metrics provides the Prometheus registry of the service: HTTP
// request metrics, handler outcomes, RUCC outcomes and Go runtime metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the collectors of one service instance. Collectors are not
// global so several registries can coexist in tests.
type Registry struct {
	registry *prometheus.Registry

	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestsInFlight prometheus.Gauge
	operationsTotal      *prometheus.CounterVec
	ruccTotal            *prometheus.CounterVec
}

// NewRegistry creates a registry with the HTTP, operation, RUCC and Go
// runtime collectors registered.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrest_operations_total",
				Help: "Resource handler invocations by outcome",
			},
			[]string{"resource", "operation", "outcome"},
		),
		ruccTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docrest_rucc_attempts_total",
				Help: "Read-update-compare-commit attempts by result",
			},
			[]string{"resource", "result"},
		),
	}

	r.registry.MustRegister(
		r.httpRequestDuration,
		r.httpRequestsTotal,
		r.httpRequestsInFlight,
		r.operationsTotal,
		r.ruccTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveHTTP records one completed request. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func (r *Registry) ObserveHTTP(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	r.httpRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
}

// IncrementInFlight increments the in-flight requests gauge.
func (r *Registry) IncrementInFlight() { r.httpRequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight requests gauge.
func (r *Registry) DecrementInFlight() { r.httpRequestsInFlight.Dec() }

// ObserveOperation counts one handler outcome.
func (r *Registry) ObserveOperation(resource, operation, outcome string) {
	r.operationsTotal.WithLabelValues(resource, operation, outcome).Inc()
}

// ObserveRUCC counts one RUCC attempt result for a collection.
func (r *Registry) ObserveRUCC(collection, outcome string) {
	r.ruccTotal.WithLabelValues(collection, outcome).Inc()
}

// MustRegister registers additional collectors and panics on error.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// Handler exposes the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
