package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

// JsonFileStore stores the collection as a single JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  documents.json   # key -> document
//
// Every write rewrites the whole file through a temp file and rename, so a
// crash leaves either the old or the new collection on disk.
type JsonFileStore struct {
	mu   sync.RWMutex
	path string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JsonFileStore{path: filepath.Join(dir, collection+".json")}, nil
}

func (s *JsonFileStore) load() (map[string]map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]any{}, nil
		}
		return nil, err
	}
	result := map[string]map[string]any{}
	if len(data) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return result, nil
}

func (s *JsonFileStore) save(docs map[string]map[string]any) error {
	b, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate runs fn against the loaded collection under the write lock and
// persists the result when fn succeeds.
func (s *JsonFileStore) mutate(fn func(docs map[string]map[string]any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, err := s.load()
	if err != nil {
		return errors.Backend(err)
	}
	if err := fn(docs); err != nil {
		return errors.Backend(err)
	}
	if err := s.save(docs); err != nil {
		return errors.Backend(err)
	}
	return nil
}

func (s *JsonFileStore) Get(_ context.Context, key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs, err := s.load()
	if err != nil {
		return nil, errors.Backend(err)
	}
	doc, ok := docs[key]
	if !ok {
		return nil, nil
	}
	return document.StripKey(doc), nil
}

func (s *JsonFileStore) Create(_ context.Context, key string, doc map[string]any) error {
	return s.mutate(func(docs map[string]map[string]any) error {
		if _, exists := docs[key]; exists {
			return errors.DuplicateKey(nil)
		}
		docs[key] = document.StripKey(doc)
		return nil
	})
}

func (s *JsonFileStore) Update(_ context.Context, key string, doc map[string]any) error {
	return s.mutate(func(docs map[string]map[string]any) error {
		if _, exists := docs[key]; !exists {
			return errors.NotFound()
		}
		docs[key] = document.StripKey(doc)
		return nil
	})
}

func (s *JsonFileStore) UpdateFields(_ context.Context, key string, fields map[string]any) error {
	return s.mutate(func(docs map[string]map[string]any) error {
		existing, exists := docs[key]
		if !exists {
			return errors.NotFound()
		}
		return document.SetFields(existing, document.Clone(fields))
	})
}

func (s *JsonFileStore) UpdateAndSet(_ context.Context, key string, doc map[string]any) error {
	return s.mutate(func(docs map[string]map[string]any) error {
		docs[key] = document.StripKey(doc)
		return nil
	})
}

func (s *JsonFileStore) Delete(_ context.Context, key string) error {
	return s.mutate(func(docs map[string]map[string]any) error {
		if _, exists := docs[key]; !exists {
			return errors.NotFound()
		}
		delete(docs, key)
		return nil
	})
}

func (s *JsonFileStore) Clean(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Backend(err)
	}
	return nil
}

func (s *JsonFileStore) Close() error {
	return nil
}
