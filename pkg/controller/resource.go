// Package controller synthesizes the REST handlers of a document resource:
// list, count, show, create, update, destroy, soft delete, their bulk
// variants, CSV upload and aggregation.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/repository/document"
	"github.com/nimburion/docrest/pkg/server/router"
)

// Model is the document-store model a Resource is bound to.
type Model interface {
	document.Repository
	RUCC(ctx context.Context, id interface{}, transform document.Transform) (document.Document, error)
	Collection() string
	Schema() *document.Schema
	TextFields() []string
}

var _ Model = (*document.Model)(nil)

// OperationObserver counts handler outcomes, typically into Prometheus.
type OperationObserver interface {
	ObserveOperation(resource, operation, outcome string)
}

// Handler outcomes reported to an OperationObserver.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeNoop     = "noop"
	OutcomePartial  = "partial"
	OutcomeError    = "error"
)

// Resource binds one Model to the CRUD handlers.
type Resource struct {
	cfg       Config
	model     Model
	responder Responder
	mapper    Mapper
	audit     AuditSink
	logger    logger.Logger
	observer  OperationObserver
	now       func() time.Time
}

// Option configures a Resource.
type Option func(*Resource)

// WithResponder replaces the default JSONResponder.
func WithResponder(responder Responder) Option {
	return func(r *Resource) {
		if responder != nil {
			r.responder = responder
		}
	}
}

// WithMapper replaces the default RequestMapper.
func WithMapper(mapper Mapper) Option {
	return func(r *Resource) {
		if mapper != nil {
			r.mapper = mapper
		}
	}
}

// WithAuditSink sets where audit records go. The default logs them.
func WithAuditSink(sink AuditSink) Option {
	return func(r *Resource) {
		if sink != nil {
			r.audit = sink
		}
	}
}

// WithLogger sets the resource logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Resource) {
		if log != nil {
			r.logger = log
		}
	}
}

// WithOperationObserver registers an observer for handler outcomes.
func WithOperationObserver(observer OperationObserver) Option {
	return func(r *Resource) { r.observer = observer }
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Resource) {
		if now != nil {
			r.now = now
		}
	}
}

// NewResource creates the handlers for model under cfg.
func NewResource(cfg Config, model Model, opts ...Option) (*Resource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, fmt.Errorf("resource %s: model is required", cfg.Name)
	}
	r := &Resource{
		cfg:       cfg.withDefaults(),
		model:     model,
		responder: JSONResponder{},
		mapper:    RequestMapper{},
		logger:    logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("resource", r.cfg.Name)
	if r.audit == nil {
		r.audit = NewLogAuditSink(r.logger)
	}
	return r, nil
}

// Name returns the resource name.
func (r *Resource) Name() string { return r.cfg.Name }

// Model returns the bound model.
func (r *Resource) Model() Model { return r.model }

// Config returns a copy of the resource configuration.
func (r *Resource) Config() Config { return r.cfg.withDefaults() }

// params maps the declared parameters of op.
func (r *Resource) params(c router.Context, op string) (Params, error) {
	return r.mapper.Map(c, r.paramSpecs(op))
}

// scope forces the soft-delete predicate unless deleted documents are visible.
func (r *Resource) scope(filter document.Filter) document.Filter {
	if !r.cfg.PermanentDeleteVisible {
		filter[document.FieldDeleted] = false
	}
	return filter
}

// readFilter selects id on read paths.
func (r *Resource) readFilter(id string) document.Filter {
	return r.scope(document.Filter{document.FieldID: document.ParseID(id)})
}

// liveFilter selects id among documents that are not soft-deleted.
func liveFilter(id string) document.Filter {
	return document.Filter{document.FieldID: document.ParseID(id), document.FieldDeleted: false}
}

// actor resolves the acting user for audit records.
func (r *Resource) actor(c router.Context) string {
	switch v := c.Get(r.cfg.UserField).(type) {
	case nil:
	case string:
		if v != "" {
			return v
		}
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(c.Request().Header.Get(r.cfg.UserHeader))
}

func (r *Resource) record(ctx context.Context, actor, op string, ids []string, before, after document.Document) {
	r.audit.Audit(ctx, AuditRecord{
		Resource:  r.cfg.Name,
		Operation: op,
		Actor:     actor,
		IDs:       ids,
		Timestamp: r.now().UTC(),
		RequestID: logger.RequestIDFromContext(ctx),
		Before:    before,
		After:     after,
	})
}

func (r *Resource) observe(op, outcome string) {
	if r.observer != nil {
		r.observer.ObserveOperation(r.cfg.Name, op, outcome)
	}
}

// okay emits data and counts the operation as successful.
func (r *Resource) okay(c router.Context, op string, data interface{}) error {
	r.observe(op, OutcomeSuccess)
	return r.responder.Okay(c, data)
}

// notFound emits 404.
func (r *Resource) notFound(c router.Context, op string) error {
	r.observe(op, OutcomeNotFound)
	return r.responder.NotFound(c)
}

// fail logs err and emits it through the responder.
func (r *Resource) fail(c router.Context, op string, err error) error {
	if IsNotFound(err) {
		return r.notFound(c, op)
	}
	r.observe(op, OutcomeError)
	r.logger.WithContext(c.Request().Context()).Error("operation failed", "operation", op, "error", err)
	return r.responder.Error(c, err)
}

// batch emits per-item results.
func (r *Resource) batch(c router.Context, op string, results []ItemResult) error {
	outcome := OutcomeSuccess
	switch BatchStatus(results) {
	case http.StatusMultiStatus:
		outcome = OutcomePartial
	case http.StatusBadRequest:
		outcome = OutcomeError
	}
	r.observe(op, outcome)
	return r.responder.Batch(c, results)
}

// fanOut runs fn for every index with bounded concurrency. Results keep
// input order regardless of completion order.
func (r *Resource) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) ItemResult) []ItemResult {
	results := make([]ItemResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BulkConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// IsNotFound reports whether err means the target document does not exist.
func IsNotFound(err error) bool {
	app := AsAppError(err)
	return app != nil && app.Code == CodeNotFound
}
