// Package tracing provides OpenTelemetry tracer bootstrap and span helpers.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	SpanOperationDBFind      SpanOperation = "db.find"
	SpanOperationDBCount     SpanOperation = "db.count"
	SpanOperationDBAggregate SpanOperation = "db.aggregate"
	SpanOperationDBInsert    SpanOperation = "db.insert"
	SpanOperationDBReplace   SpanOperation = "db.replace"
	SpanOperationDBDelete    SpanOperation = "db.delete"
	SpanOperationDBIndex     SpanOperation = "db.index"

	// SpanOperationMsgPublish represents publishing a message.
	SpanOperationMsgPublish SpanOperation = "messaging.publish"
)

// StartDatabaseSpan creates a client span for a document store call.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	spanOpts := &databaseSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("db.operation", string(operation)),
		},
	}
	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("DB %s", operation)
	if spanOpts.collection != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, spanOpts.collection)
	}

	ctx, span := otel.Tracer("database").Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)
	return ctx, span
}

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*databaseSpanOptions)

type databaseSpanOptions struct {
	collection string
	attributes []attribute.KeyValue
}

// WithDBCollection sets the collection name for the span.
func WithDBCollection(collection string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.collection = collection
		opts.attributes = append(opts.attributes, attribute.String("db.collection", collection))
	}
}

// WithDBSystem sets the database system (e.g. "mongodb", "memory").
func WithDBSystem(system string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.system", system))
	}
}

// WithDBDocumentID records the document identity the call targets.
func WithDBDocumentID(id string) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("db.document_id", id))
	}
}

// WithDBAttempt records the RUCC attempt number.
func WithDBAttempt(attempt int) DatabaseSpanOption {
	return func(opts *databaseSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("db.attempt", attempt))
	}
}

// StartMessagingSpan creates a producer span for publishing to a broker.
func StartMessagingSpan(ctx context.Context, system, destination string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("messaging").Start(ctx,
		fmt.Sprintf("MSG %s %s", SpanOperationMsgPublish, destination),
		trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("messaging.operation", string(SpanOperationMsgPublish)),
		attribute.String("messaging.system", system),
		attribute.String("messaging.destination", destination),
	)
	return ctx, span
}

// RecordError records err on span and marks the span as failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// End records err (if any) or success, then ends span.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
