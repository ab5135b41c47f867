package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nimburion/docrest/pkg/observability/logger"
	"github.com/nimburion/docrest/pkg/observability/tracing"
)

// RUCC outcomes reported to an Observer.
const (
	OutcomeCommitted = "committed"
	OutcomeRetried   = "retried"
	OutcomeExhausted = "exhausted"
	OutcomeMissing   = "missing"
)

// Transform computes the next state of a document from its current state.
// Returning a nil document leaves the stored document untouched.
type Transform func(ctx context.Context, current Document) (Document, error)

// Observer receives RUCC outcomes, typically to feed metrics.
type Observer interface {
	ObserveRUCC(collection, outcome string)
}

// RUCCConfig bounds the optimistic retry loop.
type RUCCConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRUCCConfig returns the retry budget used when none is configured.
func DefaultRUCCConfig() RUCCConfig {
	return RUCCConfig{
		MaxRetries:      10,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     250 * time.Millisecond,
	}
}

var errStaleSnapshot = errors.New("stale snapshot")

// Model binds a Schema to a collection of an Executor and maintains the
// metadata fields on every write.
type Model struct {
	collection string
	executor   Executor
	schema     *Schema
	logger     logger.Logger
	observer   Observer
	system     string
	now        func() time.Time
	textFields []string
	rucc       RUCCConfig
}

var _ Repository = (*Model)(nil)

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithLogger sets the model logger.
func WithLogger(log logger.Logger) ModelOption {
	return func(m *Model) {
		if log != nil {
			m.logger = log
		}
	}
}

// WithObserver registers an Observer for RUCC outcomes.
func WithObserver(o Observer) ModelOption {
	return func(m *Model) { m.observer = o }
}

// WithClock overrides the time source used for metadata timestamps.
func WithClock(now func() time.Time) ModelOption {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTextIndex declares the fields covered by the full-text index.
func WithTextIndex(fields ...string) ModelOption {
	return func(m *Model) { m.textFields = append([]string(nil), fields...) }
}

// WithRUCC overrides the retry budget. Zero fields keep their defaults.
func WithRUCC(cfg RUCCConfig) ModelOption {
	return func(m *Model) {
		if cfg.MaxRetries > 0 {
			m.rucc.MaxRetries = cfg.MaxRetries
		}
		if cfg.InitialInterval > 0 {
			m.rucc.InitialInterval = cfg.InitialInterval
		}
		if cfg.MaxInterval > 0 {
			m.rucc.MaxInterval = cfg.MaxInterval
		}
	}
}

// WithSystem names the backing store in spans ("mongodb", "memory").
func WithSystem(system string) ModelOption {
	return func(m *Model) { m.system = system }
}

// NewModel creates a Model for collection backed by executor. A nil schema
// accepts any domain fields.
func NewModel(collection string, executor Executor, schema *Schema, opts ...ModelOption) (*Model, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if schema == nil {
		var err error
		if schema, err = NewSchema(nil); err != nil {
			return nil, err
		}
	}
	m := &Model{
		collection: collection,
		executor:   executor,
		schema:     schema,
		logger:     logger.Nop(),
		now:        time.Now,
		rucc:       DefaultRUCCConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Collection returns the collection name.
func (m *Model) Collection() string { return m.collection }

// Schema returns the extended schema.
func (m *Model) Schema() *Schema { return m.schema }

// TextFields returns the fields covered by the full-text index.
func (m *Model) TextFields() []string { return append([]string(nil), m.textFields...) }

func (m *Model) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Model) span(ctx context.Context, op tracing.SpanOperation, extra ...tracing.DatabaseSpanOption) (context.Context, func(error)) {
	opts := append([]tracing.DatabaseSpanOption{tracing.WithDBCollection(m.collection)}, extra...)
	if m.system != "" {
		opts = append(opts, tracing.WithDBSystem(m.system))
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, op, opts...)
	return ctx, func(err error) {
		if errors.Is(err, ErrNotFound) {
			err = nil
		}
		tracing.End(span, err)
	}
}

// Find returns the documents matching filter.
func (m *Model) Find(ctx context.Context, filter Filter, opts FindOptions) (docs []Document, err error) {
	ctx, end := m.span(ctx, tracing.SpanOperationDBFind)
	defer func() { end(err) }()
	return m.executor.Find(ctx, m.collection, filter, opts)
}

// FindOne returns the first document matching filter or ErrNotFound.
func (m *Model) FindOne(ctx context.Context, filter Filter) (doc Document, err error) {
	ctx, end := m.span(ctx, tracing.SpanOperationDBFind)
	defer func() { end(err) }()
	return m.executor.FindOne(ctx, m.collection, filter)
}

// Count returns the number of documents matching filter.
func (m *Model) Count(ctx context.Context, filter Filter) (n int64, err error) {
	ctx, end := m.span(ctx, tracing.SpanOperationDBCount)
	defer func() { end(err) }()
	return m.executor.CountDocuments(ctx, m.collection, filter)
}

// Aggregate runs pipeline after rejecting restricted operators.
func (m *Model) Aggregate(ctx context.Context, pipeline []Document) (docs []Document, err error) {
	if err := CheckPipeline(pipeline); err != nil {
		return nil, err
	}
	ctx, end := m.span(ctx, tracing.SpanOperationDBAggregate)
	defer func() { end(err) }()
	return m.executor.Aggregate(ctx, m.collection, pipeline)
}

// Create assigns identity and metadata defaults, validates and inserts doc.
// Caller-supplied metadata values are overwritten.
func (m *Model) Create(ctx context.Context, doc Document) (out Document, err error) {
	next := Clone(doc)
	if next == nil {
		next = Document{}
	}
	m.schema.ApplyDefaults(next)
	if id, ok := next[FieldID]; !ok || id == nil || id == "" {
		next[FieldID] = primitive.NewObjectID()
	}
	now := m.timestamp()
	next[FieldCreatedAt] = now
	next[FieldLastUpdated] = now
	next[FieldDeleted] = false
	next[FieldVersion] = int64(1)
	if err := m.schema.Validate(next); err != nil {
		return nil, err
	}

	ctx, end := m.span(ctx, tracing.SpanOperationDBInsert, tracing.WithDBDocumentID(IDString(next[FieldID])))
	defer func() { end(err) }()
	id, err := m.executor.InsertOne(ctx, m.collection, next)
	if err != nil {
		return nil, err
	}
	next[FieldID] = id
	return next, nil
}

// Save validates doc, bumps its version and lastUpdated, and replaces the
// stored document with the same _id. ErrNotFound means the document is gone.
func (m *Model) Save(ctx context.Context, doc Document) (out Document, err error) {
	id, ok := doc[FieldID]
	if !ok || id == nil {
		return nil, fmt.Errorf("save requires %s", FieldID)
	}
	next := Clone(doc)
	m.schema.ApplyDefaults(next)
	next[FieldVersion] = versionOf(doc) + 1
	next[FieldLastUpdated] = m.timestamp()
	if err := m.schema.Validate(next); err != nil {
		return nil, err
	}

	ctx, end := m.span(ctx, tracing.SpanOperationDBReplace, tracing.WithDBDocumentID(IDString(id)))
	defer func() { end(err) }()
	matched, err := m.executor.ReplaceOne(ctx, m.collection, Filter{FieldID: id}, next)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return nil, ErrNotFound
	}
	return next, nil
}

// Remove physically deletes doc by _id.
func (m *Model) Remove(ctx context.Context, doc Document) (err error) {
	id, ok := doc[FieldID]
	if !ok || id == nil {
		return fmt.Errorf("remove requires %s", FieldID)
	}
	ctx, end := m.span(ctx, tracing.SpanOperationDBDelete, tracing.WithDBDocumentID(IDString(id)))
	defer func() { end(err) }()
	deleted, err := m.executor.DeleteOne(ctx, m.collection, Filter{FieldID: id})
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOneAndUpdate replaces the stored document only while it still equals
// snapshot. The new state keeps the snapshot identity and creation time and
// carries the next version. ErrNotFound means the snapshot is stale.
func (m *Model) FindOneAndUpdate(ctx context.Context, snapshot Document, doc Document) (out Document, err error) {
	id, ok := snapshot[FieldID]
	if !ok || id == nil {
		return nil, fmt.Errorf("snapshot requires %s", FieldID)
	}
	next := Clone(doc)
	if next == nil {
		next = Document{}
	}
	next[FieldID] = id
	if createdAt, ok := snapshot[FieldCreatedAt]; ok {
		next[FieldCreatedAt] = createdAt
	}
	if _, ok := next[FieldDeleted]; !ok {
		next[FieldDeleted] = false
	}
	next[FieldVersion] = versionOf(snapshot) + 1
	next[FieldLastUpdated] = m.timestamp()
	if err := m.schema.Validate(next); err != nil {
		return nil, err
	}

	ctx, end := m.span(ctx, tracing.SpanOperationDBReplace, tracing.WithDBDocumentID(IDString(id)))
	defer func() { end(err) }()
	return m.executor.FindOneAndReplace(ctx, m.collection, SnapshotFilter(snapshot), next)
}

// RUCC applies transform to the live document with the given id using
// read-update-check-commit: the write only lands if the document still
// matches the snapshot taken at read time; otherwise the read and transform
// are repeated with exponential backoff. A missing document yields (nil, nil).
// When the retry budget runs out a *ConcurrentModificationError is returned.
func (m *Model) RUCC(ctx context.Context, id interface{}, transform Transform) (Document, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.rucc.InitialInterval
	policy.MaxInterval = m.rucc.MaxInterval
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(m.rucc.MaxRetries)), ctx)

	var (
		result   Document
		missing  bool
		attempts int
	)
	operation := func() error {
		attempts++
		current, err := m.FindOne(ctx, Filter{FieldID: id, FieldDeleted: false})
		if errors.Is(err, ErrNotFound) {
			missing = true
			return nil
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		next, err := transform(ctx, Clone(current))
		if err != nil {
			return backoff.Permanent(err)
		}
		if next == nil {
			result = current
			return nil
		}

		saved, err := m.FindOneAndUpdate(ctx, current, next)
		if errors.Is(err, ErrNotFound) {
			m.observe(OutcomeRetried)
			m.logger.Debug("rucc snapshot is stale, retrying",
				"collection", m.collection, "id", IDString(id), "attempt", attempts)
			return errStaleSnapshot
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		result = saved
		return nil
	}

	err := backoff.Retry(operation, retry)
	switch {
	case errors.Is(err, errStaleSnapshot):
		m.observe(OutcomeExhausted)
		m.logger.Warn("rucc retry budget exhausted",
			"collection", m.collection, "id", IDString(id), "attempts", attempts)
		return nil, &ConcurrentModificationError{ID: id, Attempts: attempts}
	case err != nil:
		return nil, err
	case missing:
		m.observe(OutcomeMissing)
		return nil, nil
	default:
		m.observe(OutcomeCommitted)
		return result, nil
	}
}

func (m *Model) observe(outcome string) {
	if m.observer != nil {
		m.observer.ObserveRUCC(m.collection, outcome)
	}
}

// Indexes returns the metadata indexes plus the text index, if any.
func (m *Model) Indexes() []Index {
	indexes := []Index{
		{Name: FieldCreatedAt + "_1", Keys: []SortField{{Field: FieldCreatedAt, Order: SortAsc}}},
		{Name: FieldLastUpdated + "_-1", Keys: []SortField{{Field: FieldLastUpdated, Order: SortDesc}}},
		{Name: FieldDeleted + "_1", Keys: []SortField{{Field: FieldDeleted, Order: SortAsc}}},
		{Name: FieldVersion + "_1", Keys: []SortField{{Field: FieldVersion, Order: SortAsc}}},
	}
	if len(m.textFields) > 0 {
		text := Index{Name: m.collection + "_text", Text: true}
		for _, f := range m.textFields {
			text.Keys = append(text.Keys, SortField{Field: f, Order: SortAsc})
		}
		indexes = append(indexes, text)
	}
	return indexes
}

// EnsureIndexes creates the model indexes on the backing store.
func (m *Model) EnsureIndexes(ctx context.Context) (err error) {
	ctx, end := m.span(ctx, tracing.SpanOperationDBIndex)
	defer func() { end(err) }()
	return m.executor.EnsureIndexes(ctx, m.collection, m.Indexes())
}
