// Package store defines the backing store interface and implementations.
package store

import "context"

// Store is the interface that all backing stores must implement.
// It holds a single collection of documents keyed by the composite key
// built by the storage facade. Implementations must be safe for concurrent
// use and must return errors classified with the errors package.
type Store interface {
	// Get returns a single document by key, or nil if not found.
	// The internal key field is never part of the result.
	Get(ctx context.Context, key string) (map[string]any, error)

	// Create inserts a new document. Fails with DuplicateKey if the key exists.
	Create(ctx context.Context, key string, doc map[string]any) error

	// Update replaces an existing document. Fails with NotFound if absent.
	Update(ctx context.Context, key string, doc map[string]any) error

	// UpdateFields merges fields into an existing document. Field names may be
	// dotted paths into nested objects. Fails with NotFound if absent.
	UpdateFields(ctx context.Context, key string, fields map[string]any) error

	// UpdateAndSet inserts or fully replaces a document.
	UpdateAndSet(ctx context.Context, key string, doc map[string]any) error

	// Delete removes a document. Fails with NotFound if absent.
	Delete(ctx context.Context, key string) error

	// Clean removes every document in the collection.
	Clean(ctx context.Context) error

	// Close releases the resources held by the store.
	Close() error
}

// collection is the name of the single logical collection each backend owns.
const collection = "documents"
