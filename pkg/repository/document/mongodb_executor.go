package document

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongostore "github.com/nimburion/docrest/pkg/store/mongodb"
)

// MongoDBExecutor adapts the store/mongodb adapter to the Executor contract.
type MongoDBExecutor struct {
	adapter *mongostore.Adapter
}

// NewMongoDBExecutor creates a new MongoDBExecutor instance.
func NewMongoDBExecutor(adapter *mongostore.Adapter) (*MongoDBExecutor, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	return &MongoDBExecutor{adapter: adapter}, nil
}

// InsertOne inserts a document into the collection.
func (e *MongoDBExecutor) InsertOne(ctx context.Context, collection string, doc Document) (interface{}, error) {
	return e.adapter.InsertOne(ctx, collection, doc)
}

// FindOne finds a single document matching the filter.
func (e *MongoDBExecutor) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	out := bson.M{}
	if err := e.adapter.FindOne(ctx, collection, filter, &out); err != nil {
		return nil, translateMongoError(err)
	}
	return out, nil
}

// Find returns every document matching filter with projection, sort, skip and limit applied.
func (e *MongoDBExecutor) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	findOpts := options.Find()
	if p := projection(opts.Select); p != nil {
		findOpts.SetProjection(p)
	}
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		for _, s := range opts.Sort {
			sort = append(sort, bson.E{Key: s.Field, Value: int(s.Order)})
		}
		findOpts.SetSort(sort)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	var out []bson.M
	if err := e.adapter.Find(ctx, collection, filter, &out, findOpts); err != nil {
		return nil, err
	}
	docs := make([]Document, len(out))
	for i := range out {
		docs[i] = out[i]
	}
	return docs, nil
}

// ReplaceOne replaces the document matching filter and reports the match count.
func (e *MongoDBExecutor) ReplaceOne(ctx context.Context, collection string, filter Filter, doc Document) (int64, error) {
	return e.adapter.ReplaceOne(ctx, collection, filter, doc)
}

// FindOneAndReplace atomically replaces the document matching filter and returns the new image.
func (e *MongoDBExecutor) FindOneAndReplace(ctx context.Context, collection string, filter Filter, doc Document) (Document, error) {
	out := bson.M{}
	if err := e.adapter.FindOneAndReplace(ctx, collection, filter, doc, &out); err != nil {
		return nil, translateMongoError(err)
	}
	return out, nil
}

// DeleteOne deletes a single document matching the filter.
func (e *MongoDBExecutor) DeleteOne(ctx context.Context, collection string, filter Filter) (int64, error) {
	return e.adapter.DeleteOne(ctx, collection, filter)
}

// CountDocuments counts documents matching the filter.
func (e *MongoDBExecutor) CountDocuments(ctx context.Context, collection string, filter Filter) (int64, error) {
	return e.adapter.CountDocuments(ctx, collection, filter)
}

// Aggregate runs pipeline and decodes every result document.
func (e *MongoDBExecutor) Aggregate(ctx context.Context, collection string, pipeline []Document) ([]Document, error) {
	stages := make(bson.A, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = stage
	}
	var out []bson.M
	if err := e.adapter.Aggregate(ctx, collection, stages, &out); err != nil {
		return nil, err
	}
	docs := make([]Document, len(out))
	for i := range out {
		docs[i] = out[i]
	}
	return docs, nil
}

// EnsureIndexes creates the given indexes on the collection.
func (e *MongoDBExecutor) EnsureIndexes(ctx context.Context, collection string, indexes []Index) error {
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		keys := bson.D{}
		for _, k := range idx.Keys {
			if idx.Text {
				keys = append(keys, bson.E{Key: k.Field, Value: "text"})
				continue
			}
			keys = append(keys, bson.E{Key: k.Field, Value: int(k.Order)})
		}
		if len(keys) == 0 {
			continue
		}
		opts := options.Index()
		if idx.Name != "" {
			opts.SetName(idx.Name)
		}
		if idx.Unique {
			opts.SetUnique(true)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	_, err := e.adapter.EnsureIndexes(ctx, collection, models)
	return err
}

func translateMongoError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
