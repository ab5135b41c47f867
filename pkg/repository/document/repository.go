// Package document binds a caller schema to a document store and carries the
// query normalization and optimistic concurrency logic shared by every resource.
package document

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// Metadata fields maintained by the Model on every document.
const (
	FieldID          = "_id"
	FieldCreatedAt   = "createdAt"
	FieldLastUpdated = "lastUpdated"
	FieldDeleted     = "deleted"
	FieldVersion     = "version"
)

// MetadataFields lists the fields injected by the Model Factory.
var MetadataFields = []string{FieldCreatedAt, FieldLastUpdated, FieldDeleted, FieldVersion}

// Document is a fully materialized record. Nested documents are bson.M and
// arrays are bson.A or []interface{}.
type Document = bson.M

// Filter represents a store query predicate.
type Filter = bson.M

// ErrNotFound is returned when no live document matches a lookup or a
// conditional write predicate.
var ErrNotFound = errors.New("document not found")

// SortOrder defines the direction of sorting.
type SortOrder int

const (
	SortAsc  SortOrder = 1
	SortDesc SortOrder = -1
)

// SortField is one key of a compound sort.
type SortField struct {
	Field string
	Order SortOrder
}

// FindOptions are the cursor modifiers applied to Find.
// Limit <= 0 means no limit.
type FindOptions struct {
	Select []string
	Sort   []SortField
	Skip   int64
	Limit  int64
}

// Reader provides read operations for documents.
type Reader interface {
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)
	FindOne(ctx context.Context, filter Filter) (Document, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Aggregate(ctx context.Context, pipeline []Document) ([]Document, error)
}

// Writer provides write operations for documents.
type Writer interface {
	Create(ctx context.Context, doc Document) (Document, error)
	Save(ctx context.Context, doc Document) (Document, error)
	Remove(ctx context.Context, doc Document) error
	// FindOneAndUpdate replaces the document matching the snapshot with doc.
	// ErrNotFound means the snapshot no longer matches any stored document.
	FindOneAndUpdate(ctx context.Context, snapshot Document, doc Document) (Document, error)
}

// Repository is the document-store model contract consumed by the controllers.
type Repository interface {
	Reader
	Writer
}
