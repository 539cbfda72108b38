package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

const (
	defaultNatsBucket = "documents"
	// natsCASRetries bounds revision-conflict retries for read-modify-write ops.
	natsCASRetries = 10
)

// NatsStore stores documents in a JetStream key-value bucket. Composite keys
// are base64url encoded because the separator is not a valid KV key rune.
type NatsStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	bucket jetstream.KeyValue
	name   string
}

// NatsArgs are the arguments for creating a new NATS store.
type NatsArgs struct {
	URL    string // Required. e.g. nats://localhost:4222
	Bucket string // Optional. Defaults to "documents".
}

// NewNatsStore connects to NATS and gets or creates the KV bucket.
func NewNatsStore(ctx context.Context, args NatsArgs) (*NatsStore, error) {
	if args.Bucket == "" {
		args.Bucket = defaultNatsBucket
	}
	conn, err := nats.Connect(args.URL, nats.Name("simple-storage-server"))
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, args.Bucket)
	if stderrors.Is(err, jetstream.ErrBucketNotFound) {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      args.Bucket,
			Description: "simple-storage-server documents",
			History:     1,
		})
		if stderrors.Is(err, jetstream.ErrBucketExists) {
			// lost a creation race with another instance
			bucket, err = js.KeyValue(ctx, args.Bucket)
		}
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kv bucket %s: %w", args.Bucket, err)
	}

	return &NatsStore{conn: conn, js: js, bucket: bucket, name: args.Bucket}, nil
}

func (s *NatsStore) Close() error {
	s.conn.Close()
	return nil
}

func natsKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func isKVNotFound(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyDeleted)
}

func isKVConflict(err error) bool {
	var apiErr *jetstream.APIError
	if stderrors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return true
	}
	return stderrors.Is(err, jetstream.ErrKeyExists)
}

func (s *NatsStore) Get(ctx context.Context, key string) (map[string]any, error) {
	entry, err := s.bucket.Get(ctx, natsKey(key))
	if isKVNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Backend(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(entry.Value(), &doc); err != nil {
		return nil, errors.Backend(err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func (s *NatsStore) Create(ctx context.Context, key string, doc map[string]any) error {
	data, err := json.Marshal(document.StripKey(doc))
	if err != nil {
		return errors.Backend(err)
	}
	if _, err := s.bucket.Create(ctx, natsKey(key), data); err != nil {
		if isKVConflict(err) {
			return errors.DuplicateKey(err)
		}
		return errors.Backend(err)
	}
	return nil
}

// compareAndSwap applies fn to the current document and writes the result
// only if the entry revision is unchanged, retrying on conflicts.
func (s *NatsStore) compareAndSwap(ctx context.Context, key string, fn func(current map[string]any) (map[string]any, error)) error {
	k := natsKey(key)
	for i := 0; i < natsCASRetries; i++ {
		entry, err := s.bucket.Get(ctx, k)
		if isKVNotFound(err) {
			return errors.NotFound()
		}
		if err != nil {
			return errors.Backend(err)
		}
		var current map[string]any
		if err := json.Unmarshal(entry.Value(), &current); err != nil {
			return errors.Backend(err)
		}
		if current == nil {
			current = map[string]any{}
		}
		next, err := fn(current)
		if err != nil {
			return errors.Backend(err)
		}
		data, err := json.Marshal(next)
		if err != nil {
			return errors.Backend(err)
		}
		_, err = s.bucket.Update(ctx, k, data, entry.Revision())
		if err == nil {
			return nil
		}
		if !isKVConflict(err) {
			return errors.Backend(err)
		}
	}
	return errors.Backend(fmt.Errorf("kv update %s: too many revision conflicts", key))
}

func (s *NatsStore) Update(ctx context.Context, key string, doc map[string]any) error {
	replacement := document.StripKey(doc)
	return s.compareAndSwap(ctx, key, func(map[string]any) (map[string]any, error) {
		return replacement, nil
	})
}

func (s *NatsStore) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	return s.compareAndSwap(ctx, key, func(current map[string]any) (map[string]any, error) {
		if err := document.SetFields(current, document.Clone(fields)); err != nil {
			return nil, err
		}
		return current, nil
	})
}

func (s *NatsStore) UpdateAndSet(ctx context.Context, key string, doc map[string]any) error {
	data, err := json.Marshal(document.StripKey(doc))
	if err != nil {
		return errors.Backend(err)
	}
	if _, err := s.bucket.Put(ctx, natsKey(key), data); err != nil {
		return errors.Backend(err)
	}
	return nil
}

// Delete places a delete marker guarded by the last seen revision, so a
// concurrent recreate is never removed by a stale delete.
func (s *NatsStore) Delete(ctx context.Context, key string) error {
	k := natsKey(key)
	for i := 0; i < natsCASRetries; i++ {
		entry, err := s.bucket.Get(ctx, k)
		if isKVNotFound(err) {
			return errors.NotFound()
		}
		if err != nil {
			return errors.Backend(err)
		}
		err = s.bucket.Delete(ctx, k, jetstream.LastRevision(entry.Revision()))
		if err == nil {
			return nil
		}
		if !isKVConflict(err) {
			return errors.Backend(err)
		}
	}
	return errors.Backend(fmt.Errorf("kv delete %s: too many revision conflicts", key))
}

// Clean purges the stream backing the bucket.
func (s *NatsStore) Clean(ctx context.Context) error {
	stream, err := s.js.Stream(ctx, "KV_"+s.name)
	if err != nil {
		return errors.Backend(err)
	}
	if err := stream.Purge(ctx); err != nil {
		return errors.Backend(err)
	}
	return nil
}
