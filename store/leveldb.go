package store

import (
	"context"
	"os"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

// LeveldbStore keeps documents in an embedded LevelDB database under
// "documents/<key>". LevelDB locks its directory, so one process owns the
// data and a mutex is enough to make read-modify-write operations atomic.
type LeveldbStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

var (
	leveldbPrefix = []byte(collection + "/")
	syncWrite     = &opt.WriteOptions{Sync: true}
)

func NewLeveldbStore(dir string) (*LeveldbStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LeveldbStore{db: db}, nil
}

func (s *LeveldbStore) Close() error {
	return s.db.Close()
}

func leveldbKey(key string) []byte {
	return append(append([]byte{}, leveldbPrefix...), key...)
}

// load returns the stored document, or nil when there is none.
func (s *LeveldbStore) load(key string) (map[string]any, error) {
	raw, err := s.db.Get(leveldbKey(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Backend(err)
	}
	doc, err := decodeDoc(string(raw))
	if err != nil {
		return nil, errors.Backend(err)
	}
	return doc, nil
}

func (s *LeveldbStore) put(key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	if err := s.db.Put(leveldbKey(key), []byte(data), syncWrite); err != nil {
		return errors.Backend(err)
	}
	return nil
}

func (s *LeveldbStore) Get(_ context.Context, key string) (map[string]any, error) {
	return s.load(key)
}

func (s *LeveldbStore) Create(_ context.Context, key string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.db.Has(leveldbKey(key), nil)
	if err != nil {
		return errors.Backend(err)
	}
	if ok {
		return errors.DuplicateKey(nil)
	}
	return s.put(key, doc)
}

func (s *LeveldbStore) Update(_ context.Context, key string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.db.Has(leveldbKey(key), nil)
	if err != nil {
		return errors.Backend(err)
	}
	if !ok {
		return errors.NotFound()
	}
	return s.put(key, doc)
}

func (s *LeveldbStore) UpdateFields(_ context.Context, key string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load(key)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.NotFound()
	}
	if err := document.SetFields(doc, document.Clone(fields)); err != nil {
		return errors.Backend(err)
	}
	return s.put(key, doc)
}

func (s *LeveldbStore) UpdateAndSet(_ context.Context, key string, doc map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, doc)
}

func (s *LeveldbStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.db.Has(leveldbKey(key), nil)
	if err != nil {
		return errors.Backend(err)
	}
	if !ok {
		return errors.NotFound()
	}
	if err := s.db.Delete(leveldbKey(key), syncWrite); err != nil {
		return errors.Backend(err)
	}
	return nil
}

// Clean deletes every document key in one batch.
func (s *LeveldbStore) Clean(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	iter := s.db.NewIterator(util.BytesPrefix(leveldbPrefix), nil)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Backend(err)
	}
	if err := s.db.Write(batch, syncWrite); err != nil {
		return errors.Backend(err)
	}
	return nil
}
