// Package mongodb owns the MongoDB client behind the document executor. Every
// collection call goes through one guarded path that applies the operation
// timeout and tags errors with the operation and collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nimburion/docrest/pkg/observability/logger"
)

// ErrClosed is returned by every call made after Close.
var ErrClosed = errors.New("mongodb adapter is closed")

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultOperationTimeout = 5 * time.Second
	healthCheckTimeout      = 2 * time.Second
	disconnectTimeout       = 5 * time.Second
)

// Config holds the connection settings.
type Config struct {
	URL      string
	Database string
	// AppName is reported to the server and shows up in its logs.
	AppName          string
	MaxPoolSize      uint64
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// Adapter is a connected client bound to one database.
type Adapter struct {
	client   *mongo.Client
	database *mongo.Database
	logger   logger.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewAdapter connects and pings the primary. Indexes are created separately
// through EnsureIndexes.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("mongodb URL is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongodb database is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	opts := options.Client().ApplyURI(cfg.URL).SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	log.Info("mongodb connection established", "database", cfg.Database)
	return &Adapter{
		client:   client,
		database: client.Database(cfg.Database),
		logger:   log,
		timeout:  cfg.OperationTimeout,
	}, nil
}

// Collection returns a handle on name in the bound database.
func (a *Adapter) Collection(name string) *mongo.Collection {
	return a.database.Collection(name)
}

// Ping checks the primary is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.isClosed() {
		return ErrClosed
	}
	return a.client.Ping(ctx, readpref.Primary())
}

// HealthCheck pings with a short deadline. It satisfies health.Checkable.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := a.Ping(ctx); err != nil {
		a.logger.Error("mongodb health check failed", "error", err)
		return fmt.Errorf("mongodb health check: %w", err)
	}
	return nil
}

// Close disconnects once; later calls are no-ops.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("close mongodb connection: %w", err)
	}
	a.logger.Info("mongodb connection closed")
	return nil
}

// Find decodes every match into results, a pointer to a slice.
func (a *Adapter) Find(ctx context.Context, collection string, filter, results interface{}, opts ...*options.FindOptions) error {
	return a.run(ctx, "find", collection, func(ctx context.Context, c *mongo.Collection) error {
		cursor, err := c.Find(ctx, filter, opts...)
		if err != nil {
			return err
		}
		return cursor.All(ctx, results)
	})
}

// FindOne decodes the first match into result. mongo.ErrNoDocuments stays
// reachable through errors.Is.
func (a *Adapter) FindOne(ctx context.Context, collection string, filter, result interface{}) error {
	return a.run(ctx, "findOne", collection, func(ctx context.Context, c *mongo.Collection) error {
		return c.FindOne(ctx, filter).Decode(result)
	})
}

// InsertOne inserts doc and returns the stored _id.
func (a *Adapter) InsertOne(ctx context.Context, collection string, doc interface{}) (interface{}, error) {
	var id interface{}
	err := a.run(ctx, "insertOne", collection, func(ctx context.Context, c *mongo.Collection) error {
		res, err := c.InsertOne(ctx, doc)
		if err != nil {
			return err
		}
		id = res.InsertedID
		return nil
	})
	return id, err
}

// ReplaceOne replaces the first match and returns the matched count.
func (a *Adapter) ReplaceOne(ctx context.Context, collection string, filter, replacement interface{}) (int64, error) {
	var matched int64
	err := a.run(ctx, "replaceOne", collection, func(ctx context.Context, c *mongo.Collection) error {
		res, err := c.ReplaceOne(ctx, filter, replacement)
		if err != nil {
			return err
		}
		matched = res.MatchedCount
		return nil
	})
	return matched, err
}

// FindOneAndReplace replaces the first match and decodes the post-image into
// result. It never upserts.
func (a *Adapter) FindOneAndReplace(ctx context.Context, collection string, filter, replacement, result interface{}) error {
	opts := options.FindOneAndReplace().SetUpsert(false).SetReturnDocument(options.After)
	return a.run(ctx, "findOneAndReplace", collection, func(ctx context.Context, c *mongo.Collection) error {
		return c.FindOneAndReplace(ctx, filter, replacement, opts).Decode(result)
	})
}

// DeleteOne deletes the first match and returns the deleted count.
func (a *Adapter) DeleteOne(ctx context.Context, collection string, filter interface{}) (int64, error) {
	var deleted int64
	err := a.run(ctx, "deleteOne", collection, func(ctx context.Context, c *mongo.Collection) error {
		res, err := c.DeleteOne(ctx, filter)
		if err != nil {
			return err
		}
		deleted = res.DeletedCount
		return nil
	})
	return deleted, err
}

// CountDocuments counts the matches of filter.
func (a *Adapter) CountDocuments(ctx context.Context, collection string, filter interface{}) (int64, error) {
	var n int64
	err := a.run(ctx, "countDocuments", collection, func(ctx context.Context, c *mongo.Collection) error {
		var err error
		n, err = c.CountDocuments(ctx, filter)
		return err
	})
	return n, err
}

// Aggregate runs pipeline and decodes every output document into results.
func (a *Adapter) Aggregate(ctx context.Context, collection string, pipeline, results interface{}) error {
	return a.run(ctx, "aggregate", collection, func(ctx context.Context, c *mongo.Collection) error {
		cursor, err := c.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		return cursor.All(ctx, results)
	})
}

// EnsureIndexes creates models. Identical existing indexes are left alone by
// the server.
func (a *Adapter) EnsureIndexes(ctx context.Context, collection string, models []mongo.IndexModel) ([]string, error) {
	if len(models) == 0 {
		return nil, nil
	}
	var names []string
	err := a.run(ctx, "createIndexes", collection, func(ctx context.Context, c *mongo.Collection) error {
		var err error
		names, err = c.Indexes().CreateMany(ctx, models)
		return err
	})
	return names, err
}

func (a *Adapter) run(ctx context.Context, op, collection string, fn func(context.Context, *mongo.Collection) error) error {
	if a.isClosed() {
		return ErrClosed
	}
	ctx, cancel := a.withOperationTimeout(ctx)
	defer cancel()
	if err := fn(ctx, a.Collection(collection)); err != nil {
		return fmt.Errorf("mongodb %s %s: %w", op, collection, err)
	}
	return nil
}

func (a *Adapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// A caller deadline wins over the adapter timeout.
func (a *Adapter) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}
