package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

const (
	redisNamespace = "docstore"
	// redisWatchRetries bounds optimistic retries of a field merge racing
	// with other writers on the same key.
	redisWatchRetries = 10
	redisScanCount    = 500
)

// RedisStore stores each document as a JSON string under a namespaced key.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// RedisArgs are the arguments for creating a new Redis store.
type RedisArgs struct {
	Addr      string // Required. host:port of the Redis server.
	Password  string // Optional.
	DB        int    // Optional. Redis logical database.
	Namespace string // Optional. Prefix for every stored key. Defaults to "docstore".
	Client    *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
// A client passed in args stays open when the ping fails.
func NewRedisStore(ctx context.Context, args RedisArgs) (*RedisStore, error) {
	if args.Namespace == "" {
		args.Namespace = redisNamespace
	}
	client, owned := args.Client, false
	if client == nil {
		owned = true
		client = redis.NewClient(&redis.Options{
			Addr:     args.Addr,
			Password: args.Password,
			DB:       args.DB,
		})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return nil, err
	}
	return &RedisStore{client: client, namespace: args.Namespace}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// nsKey prefixes key with the store namespace and collection.
func (s *RedisStore) nsKey(key string) string {
	return fmt.Sprintf("%s:%s:%s", s.namespace, collection, key)
}

func (s *RedisStore) Get(ctx context.Context, key string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.nsKey(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Backend(err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, errors.Backend(err)
	}
	return doc, nil
}

func (s *RedisStore) Create(ctx context.Context, key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	ok, err := s.client.SetNX(ctx, s.nsKey(key), data, 0).Result()
	if err != nil {
		return errors.Backend(err)
	}
	if !ok {
		return errors.DuplicateKey(nil)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	ok, err := s.client.SetXX(ctx, s.nsKey(key), data, 0).Result()
	if err != nil {
		return errors.Backend(err)
	}
	if !ok {
		return errors.NotFound()
	}
	return nil
}

// UpdateFields merges under WATCH so a concurrent writer forces a retry
// instead of a lost update.
func (s *RedisStore) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	nk := s.nsKey(key)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, nk).Result()
		if err == redis.Nil {
			return errors.NotFound()
		}
		if err != nil {
			return err
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return err
		}
		if err := document.SetFields(doc, document.Clone(fields)); err != nil {
			return err
		}
		data, err := encodeDoc(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, nk, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, nk)
		if err == redis.TxFailedErr {
			continue
		}
		return errors.Backend(err)
	}
	return errors.Backend(fmt.Errorf("update fields %s: %w", key, redis.TxFailedErr))
}

func (s *RedisStore) UpdateAndSet(ctx context.Context, key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	if err := s.client.Set(ctx, s.nsKey(key), data, 0).Err(); err != nil {
		return errors.Backend(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.nsKey(key)).Result()
	if err != nil {
		return errors.Backend(err)
	}
	if n == 0 {
		return errors.NotFound()
	}
	return nil
}

// Clean removes every key in the store namespace. Other keys in the same
// Redis database are left alone.
func (s *RedisStore) Clean(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.nsKey("*"), redisScanCount).Iterator()
	batch := make([]string, 0, redisScanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisScanCount {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return errors.Backend(err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Backend(err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return errors.Backend(err)
		}
	}
	return nil
}
