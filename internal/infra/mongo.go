package infra

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoDatabase connects to MongoDB, verifies the connection, and returns
// a handle to the configured database. The client's connection pool is shared
// process-wide; callers must Disconnect the client on shutdown.
func NewMongoDatabase(ctx context.Context, cfg *Config) (*mongo.Database, func(context.Context) error, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetMaxPoolSize(20).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return client.Database(cfg.MongoDatabase), client.Disconnect, nil
}
