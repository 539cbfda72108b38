package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"

	"github.com/stevemurr/simple-storage-server/document"
	"github.com/stevemurr/simple-storage-server/errors"
)

// SqliteStore stores the collection in a single SQLite table.
//
// Tables:
//
//	documents(key, data)  PRIMARY KEY (key)
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func encodeDoc(doc map[string]any) (string, error) {
	b, err := json.Marshal(document.StripKey(doc))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeDoc(raw string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// isUniqueViolation reports whether err is a primary key / unique constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if stderrors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (s *SqliteStore) Get(ctx context.Context, key string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
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

func (s *SqliteStore) Create(ctx context.Context, key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO documents (key, data) VALUES (?, ?)", key, data)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.DuplicateKey(err)
		}
		return errors.Backend(err)
	}
	return nil
}

func (s *SqliteStore) Update(ctx context.Context, key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE documents SET data = ? WHERE key = ?", data, key)
	if err != nil {
		return errors.Backend(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Backend(err)
	}
	if n == 0 {
		return errors.NotFound()
	}
	return nil
}

// UpdateFields reads, merges and writes back inside one transaction.
func (s *SqliteStore) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Backend(err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, "SELECT data FROM documents WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return errors.NotFound()
	}
	if err != nil {
		return errors.Backend(err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return errors.Backend(err)
	}
	if err := document.SetFields(doc, document.Clone(fields)); err != nil {
		return errors.Backend(err)
	}
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET data = ? WHERE key = ?", data, key); err != nil {
		return errors.Backend(err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Backend(err)
	}
	return nil
}

func (s *SqliteStore) UpdateAndSet(ctx context.Context, key string, doc map[string]any) error {
	data, err := encodeDoc(doc)
	if err != nil {
		return errors.Backend(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (key, data) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data`,
		key, data,
	)
	if err != nil {
		return errors.Backend(err)
	}
	return nil
}

func (s *SqliteStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE key = ?", key)
	if err != nil {
		return errors.Backend(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound()
	}
	return nil
}

func (s *SqliteStore) Clean(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents"); err != nil {
		return errors.Backend(err)
	}
	return nil
}
