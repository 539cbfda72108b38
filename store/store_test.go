package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/simple-storage-server/errors"
	"github.com/stevemurr/simple-storage-server/store"
)

// runStoreTests runs a common test suite against any Store implementation.
// The store must start empty.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Get missing", func(t *testing.T) {
		got, err := s.Get(ctx, "app|missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Create and Get", func(t *testing.T) {
		doc := map[string]any{
			"title":  "hello",
			"count":  float64(42),
			"nested": map[string]any{"list": []any{"a", float64(1)}},
		}
		require.NoError(t, s.Create(ctx, "app|k1", doc))

		got, err := s.Get(ctx, "app|k1")
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("Create duplicate keeps original", func(t *testing.T) {
		err := s.Create(ctx, "app|k1", map[string]any{"title": "other"})
		assert.ErrorIs(t, err, errors.ErrDuplicateKey)

		got, err := s.Get(ctx, "app|k1")
		require.NoError(t, err)
		assert.Equal(t, "hello", got["title"])
	})

	t.Run("Key field is hidden", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, "app|hidden", map[string]any{"_id": "spoofed", "v": true}))
		got, err := s.Get(ctx, "app|hidden")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"v": true}, got)
	})

	t.Run("UpdateFields cannot reach key field", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, "app|keypath", map[string]any{"v": float64(1)}))
		require.NoError(t, s.UpdateFields(ctx, "app|keypath", map[string]any{
			"_id":   "spoofed",
			"_id.x": "leak",
			"w":     "set",
		}))
		got, err := s.Get(ctx, "app|keypath")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"v": float64(1), "w": "set"}, got)
	})

	t.Run("Update replaces", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, "app|k1", map[string]any{"title": "updated"}))
		got, err := s.Get(ctx, "app|k1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"title": "updated"}, got)
	})

	t.Run("Update missing", func(t *testing.T) {
		err := s.Update(ctx, "app|nope", map[string]any{"title": "x"})
		assert.ErrorIs(t, err, errors.ErrNotFound)
		got, err := s.Get(ctx, "app|nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpdateFields dotted path", func(t *testing.T) {
		require.NoError(t, s.UpdateFields(ctx, "app|k1", map[string]any{
			"a.b.c": "x",
			"score": float64(3),
		}))
		got, err := s.Get(ctx, "app|k1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"title": "updated",
			"score": float64(3),
			"a":     map[string]any{"b": map[string]any{"c": "x"}},
		}, got)
	})

	t.Run("UpdateFields merges nested", func(t *testing.T) {
		require.NoError(t, s.UpdateFields(ctx, "app|k1", map[string]any{"a.b.d": float64(4)}))
		got, err := s.Get(ctx, "app|k1")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"c": "x", "d": float64(4)},
			got["a"].(map[string]any)["b"])
	})

	t.Run("UpdateFields missing", func(t *testing.T) {
		err := s.UpdateFields(ctx, "app|nope", map[string]any{"a": float64(1)})
		assert.ErrorIs(t, err, errors.ErrNotFound)
		got, err := s.Get(ctx, "app|nope")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("UpdateAndSet creates", func(t *testing.T) {
		require.NoError(t, s.UpdateAndSet(ctx, "app|k2", map[string]any{"score": float64(1), "extra": "y"}))
		got, err := s.Get(ctx, "app|k2")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"score": float64(1), "extra": "y"}, got)
	})

	t.Run("UpdateAndSet replaces fully", func(t *testing.T) {
		require.NoError(t, s.UpdateAndSet(ctx, "app|k2", map[string]any{"score": float64(2)}))
		got, err := s.Get(ctx, "app|k2")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"score": float64(2)}, got)
	})

	t.Run("Delete existing", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "app|k2"))
		got, err := s.Get(ctx, "app|k2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Delete missing", func(t *testing.T) {
		assert.ErrorIs(t, s.Delete(ctx, "app|k2"), errors.ErrNotFound)
	})

	t.Run("Create after delete", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, "app|k2", map[string]any{"again": true}))
		got, err := s.Get(ctx, "app|k2")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"again": true}, got)
	})

	t.Run("Concurrent create has one winner", func(t *testing.T) {
		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Create(ctx, "race|key", map[string]any{"writer": float64(i)})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, errors.ErrDuplicateKey)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("Clean removes everything", func(t *testing.T) {
		require.NoError(t, s.Clean(ctx))
		for _, key := range []string{"app|k1", "app|k2", "app|hidden", "race|key"} {
			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, got, key)
		}
		require.NoError(t, s.Create(ctx, "app|k1", map[string]any{"fresh": true}))
	})
}

func TestMemoryStore(t *testing.T) {
	s := store.NewMemoryStore()
	runStoreTests(t, s)
}

func TestJsonFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	runStoreTests(t, s)
}

func TestSqliteStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := store.NewSqliteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestLeveldbStore(t *testing.T) {
	s, err := store.NewLeveldbStore(filepath.Join(t.TempDir(), "docs.leveldb"))
	require.NoError(t, err)
	defer s.Close()
	runStoreTests(t, s)
}

func TestLeveldbStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "docs.leveldb")

	s, err := store.NewLeveldbStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "app|k1", map[string]any{"v": "kept"}))
	require.NoError(t, s.Close())

	reopened, err := store.NewLeveldbStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	doc, err := reopened.Get(ctx, "app|k1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"v": "kept"}, doc)
}

func TestJsonFileStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "a|k1", map[string]any{"x": float64(1)}))

	reopened, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "a|k1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1)}, got)
	assert.FileExists(t, filepath.Join(dir, "documents.json"))
}

func TestUpdateFieldsPathConflictLeavesDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sqlite, err := store.NewSqliteStore(filepath.Join(dir, "conflict.db"))
	require.NoError(t, err)
	defer sqlite.Close()
	jsonStore, err := store.NewJsonFileStore(filepath.Join(dir, "json"))
	require.NoError(t, err)
	level, err := store.NewLeveldbStore(filepath.Join(dir, "leveldb"))
	require.NoError(t, err)
	defer level.Close()

	for name, s := range map[string]store.Store{
		"memory":  store.NewMemoryStore(),
		"json":    jsonStore,
		"sqlite":  sqlite,
		"leveldb": level,
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, "p|s", map[string]any{"a": float64(1)}))

			err := s.UpdateFields(ctx, "p|s", map[string]any{"a.b": "x", "z": "y"})
			assert.ErrorIs(t, err, errors.ErrBackend)
			assert.Equal(t, errors.MsgBackend, err.Error())

			got, err := s.Get(ctx, "p|s")
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"a": float64(1)}, got)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	doc := map[string]any{"n": map[string]any{"v": float64(1)}}
	require.NoError(t, s.Create(ctx, "p|s", doc))

	doc["n"].(map[string]any)["v"] = float64(2)
	got, err := s.Get(ctx, "p|s")
	require.NoError(t, err)
	got["n"].(map[string]any)["v"] = float64(3)

	again, err := s.Get(ctx, "p|s")
	require.NoError(t, err)
	assert.Equal(t, float64(1), again["n"].(map[string]any)["v"])
	assert.Equal(t, 1, s.Len())
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend string
	}{
		{"json"},
		{"sqlite"},
		{"leveldb"},
		{"memory"},
		{""},
	}
	for _, tc := range tests {
		t.Run(tc.backend, func(t *testing.T) {
			s, err := store.New(store.Config{Backend: tc.backend, DataDir: filepath.Join(dir, tc.backend)}, nil)
			require.NoError(t, err)
			defer s.Close()
			assert.True(t, store.IsReady(s))
		})
	}

	for _, backend := range []string{"mongo", "redis", "nats"} {
		t.Run(backend, func(t *testing.T) {
			s, err := store.New(store.Config{
				Backend:   backend,
				MongoURI:  "mongodb://127.0.0.1:1/test",
				RedisAddr: "127.0.0.1:1",
				NatsURL:   "nats://127.0.0.1:1",
			}, nil)
			require.NoError(t, err)
			defer s.Close()
			_, ok := s.(*store.Reconnecting)
			assert.True(t, ok, fmt.Sprintf("%s should be wrapped for reconnects", backend))
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := store.New(store.Config{Backend: "postgres", DataDir: dir}, nil)
		assert.Error(t, err)
	})
}
