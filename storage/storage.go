// Package storage is the document storage facade. It turns a (prefix, suffix)
// pair into a store key and forwards each operation to a store.Store.
//
// Key errors are returned before the store is called, so an invalid key never
// has side effects. Store errors keep their classification; anything a store
// returns unclassified becomes a backend error with a generic message.
package storage

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/stevemurr/simple-storage-server/errors"
	"github.com/stevemurr/simple-storage-server/store"
)

// Storage exposes the document operations. It holds no mutable state and is
// safe for concurrent use whenever the underlying store is.
type Storage struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Storage backed by s.
func New(s store.Store, logger *slog.Logger) *Storage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{store: s, logger: logger.With("component", "storage")}
}

// Get returns the document for the key, or nil when there is none. A missing
// document is not an error.
func (s *Storage) Get(ctx context.Context, prefix, suffix string) (map[string]any, error) {
	key, err := BuildKey(prefix, suffix)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, s.fail(ctx, "get", key, err)
	}
	return doc, nil
}

// Create stores doc under a new key. If the key is taken, DuplicateKey is
// returned and the stored document is unchanged.
func (s *Storage) Create(ctx context.Context, prefix, suffix string, doc map[string]any) error {
	return s.write(ctx, "create", prefix, suffix, func(key string) error {
		return s.store.Create(ctx, key, orEmpty(doc))
	})
}

// Update replaces the document for an existing key.
func (s *Storage) Update(ctx context.Context, prefix, suffix string, doc map[string]any) error {
	return s.write(ctx, "update", prefix, suffix, func(key string) error {
		return s.store.Update(ctx, key, orEmpty(doc))
	})
}

// UpdateFields sets the given fields on an existing document. Field names
// may use dot notation ("a.b.c") to address nested fields; missing
// intermediate objects are created.
func (s *Storage) UpdateFields(ctx context.Context, prefix, suffix string, fields map[string]any) error {
	return s.write(ctx, "update_fields", prefix, suffix, func(key string) error {
		return s.store.UpdateFields(ctx, key, orEmpty(fields))
	})
}

// UpdateAndSet creates the document or replaces all of its values.
func (s *Storage) UpdateAndSet(ctx context.Context, prefix, suffix string, doc map[string]any) error {
	return s.write(ctx, "update_and_set", prefix, suffix, func(key string) error {
		return s.store.UpdateAndSet(ctx, key, orEmpty(doc))
	})
}

// Del deletes the document. It fails with NotFound if the key is absent.
func (s *Storage) Del(ctx context.Context, prefix, suffix string) error {
	return s.write(ctx, "delete", prefix, suffix, func(key string) error {
		return s.store.Delete(ctx, key)
	})
}

// Clean removes every document. Intended for tests and administration.
func (s *Storage) Clean(ctx context.Context) error {
	if err := s.store.Clean(ctx); err != nil {
		return s.fail(ctx, "clean", "", err)
	}
	s.logger.InfoContext(ctx, "document collection cleaned")
	return nil
}

// Ready reports whether the backing store can serve requests.
func (s *Storage) Ready() bool {
	return store.IsReady(s.store)
}

func (s *Storage) write(ctx context.Context, op, prefix, suffix string, fn func(key string) error) error {
	key, err := BuildKey(prefix, suffix)
	if err != nil {
		return err
	}
	if err := fn(key); err != nil {
		return s.fail(ctx, op, key, err)
	}
	return nil
}

// fail logs a store error and classifies anything a store left unclassified.
func (s *Storage) fail(ctx context.Context, op, key string, err error) error {
	err = errors.Backend(err)
	kind := errors.KindOf(err)
	if kind.ClientError() {
		s.logger.DebugContext(ctx, "storage operation rejected", "op", op, "key", key, "kind", kind.String())
	} else {
		s.logger.ErrorContext(ctx, "storage operation failed", "op", op, "key", key, "kind", kind.String(), "error", causeOf(err))
	}
	return err
}

func causeOf(err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Err != nil {
		return e.Err
	}
	return err
}

func orEmpty(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	return doc
}
