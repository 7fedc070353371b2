// Package docstore provides document fetchers for list documents.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bryan-buckman/listfeed/internal/model"
)

// MongoConfig represents the MongoDB configuration.
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize uint64
	MaxRetry    int
}

// Mongo fetches list documents by _id from one collection.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to MongoDB, retrying the initial connect up to MaxRetry times.
func NewMongo(ctx context.Context, cfg MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < cfg.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Second / 2)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	return &Mongo{
		client: cli,
		coll:   cli.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

// Fetch returns the document with _id id.
func (m *Mongo) Fetch(ctx context.Context, id string) (*model.RawDocument, error) {
	var doc model.RawDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", model.ErrDocumentMissing, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", id, err)
	}
	return &doc, nil
}

// Put upserts a document under id. Used to seed collections.
func (m *Mongo) Put(ctx context.Context, id string, doc *model.RawDocument) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put %s: %w", id, err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
