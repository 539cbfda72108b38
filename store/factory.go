package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"
)

// Config selects and configures a backend.
type Config struct {
	Backend       string
	DataDir       string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NatsURL       string
	NatsBucket    string
	RetryInterval time.Duration
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"   - JSON file in DataDir (default)
//	"sqlite" - SQLite database at DataDir/documents.db
//	"leveldb" - LevelDB database in DataDir/documents.leveldb
//	"memory" - In-memory (ephemeral, for testing)
//	"mongo"  - MongoDB at MongoURI
//	"redis"  - Redis at RedisAddr
//	"nats"   - NATS JetStream KV at NatsURL
//
// Networked backends are connected in the background and retried every
// RetryInterval; New never fails because such a backend is down.
func New(cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "json", "":
		return NewJsonFileStore(cfg.DataDir)
	case "sqlite":
		dbPath := filepath.Join(cfg.DataDir, collection+".db")
		return NewSqliteStore(dbPath)
	case "leveldb":
		return NewLeveldbStore(filepath.Join(cfg.DataDir, collection+".leveldb"))
	case "memory":
		return NewMemoryStore(), nil
	case "mongo":
		return NewReconnecting("mongo", func(ctx context.Context) (Store, error) {
			return NewMongoStore(ctx, MongoArgs{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		}, cfg.RetryInterval, logger), nil
	case "redis":
		return NewReconnecting("redis", func(ctx context.Context) (Store, error) {
			return NewRedisStore(ctx, RedisArgs{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		}, cfg.RetryInterval, logger), nil
	case "nats":
		return NewReconnecting("nats", func(ctx context.Context) (Store, error) {
			return NewNatsStore(ctx, NatsArgs{URL: cfg.NatsURL, Bucket: cfg.NatsBucket})
		}, cfg.RetryInterval, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, leveldb, memory, mongo, redis, nats)", cfg.Backend)
	}
}
