package store

import (
	"context"
	"sync"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]any)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return document.Clone(doc), nil
}

func (m *MemoryStore) Create(_ context.Context, key string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[key]; exists {
		return errors.DuplicateKey(nil)
	}
	m.docs[key] = document.StripKey(doc)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, key string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[key]; !exists {
		return errors.NotFound()
	}
	m.docs[key] = document.StripKey(doc)
	return nil
}

func (m *MemoryStore) UpdateFields(_ context.Context, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.docs[key]
	if !exists {
		return errors.NotFound()
	}
	// work on a copy so a path conflict leaves the stored document untouched
	updated := document.Clone(existing)
	if err := document.SetFields(updated, document.Clone(fields)); err != nil {
		return errors.Backend(err)
	}
	m.docs[key] = updated
	return nil
}

func (m *MemoryStore) UpdateAndSet(_ context.Context, key string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = document.StripKey(doc)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[key]; !exists {
		return errors.NotFound()
	}
	delete(m.docs, key)
	return nil
}

func (m *MemoryStore) Clean(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]map[string]any)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Len returns the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
