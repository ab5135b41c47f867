package document

import "context"

// Executor is the primitive document-store contract a Model runs on top of.
// Implementations must return ErrNotFound from FindOne and FindOneAndReplace
// when nothing matches.
type Executor interface {
	InsertOne(ctx context.Context, collection string, doc Document) (interface{}, error)
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	// ReplaceOne reports how many documents matched filter (0 or 1).
	ReplaceOne(ctx context.Context, collection string, filter Filter, doc Document) (int64, error)
	FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error)
	DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error)
	CountDocuments(ctx context.Context, collection string, filter Filter) (int64, error)
	Aggregate(ctx context.Context, collection string, pipeline []Document) ([]Document, error)
	EnsureIndexes(ctx context.Context, collection string, indexes []Index) error
}

// Index describes a secondary index. Text indexes ignore Keys' order and index
// every listed field for full-text search.
type Index struct {
	Name   string
	Keys   []SortField
	Text   bool
	Unique bool
}

// projection builds a store projection from a select list. Entries prefixed
// with "-" exclude the field; anything else includes it. An empty list means
// all fields.
func projection(fields []string) map[string]int {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]int, len(fields))
	for _, f := range fields {
		switch {
		case f == "" || f == "-":
			continue
		case f[0] == '-':
			out[f[1:]] = 0
		default:
			out[f] = 1
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
