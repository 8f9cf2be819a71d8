package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
	msqlite "modernc.org/sqlite"
	msqlitelib "modernc.org/sqlite/lib"
)

// SQLite driver names as registered with database/sql.
const (
	DriverCgo  = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPure = "sqlite"  // modernc.org/sqlite
)

// SqliteStore stores all collections in a single SQLite database.
//
// Tables:
//
//	documents(seq, collection, id, data)  UNIQUE (collection, id)
//
// seq gives insertion order. Unique indexes are partial expression indexes
// over json_extract(data, path), one per (collection, field).
type SqliteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// NewSqliteStore opens dbPath with the given database/sql driver name
// (DriverCgo or DriverPure).
func NewSqliteStore(driver, dbPath string) (*SqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, err
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS documents (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			UNIQUE (collection, id)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// where builds the predicate for filter inside collection. Values are
// compared as JSON so that numbers, strings and booleans match the way they
// were stored.
func (s *SqliteStore) where(collection string, filter Filter) (string, []any, error) {
	clause := "collection = ?"
	args := []any{collection}
	for _, k := range filterKeys(filter) {
		v := filter[k]
		if id, ok := v.(string); ok && k == IDKey {
			clause += " AND id = ?"
			args = append(args, id)
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", k, err)
		}
		clause += " AND json_extract(data, ?) = json_extract(?, '$')"
		args = append(args, jsonPath(k), string(b))
	}
	return clause, args, nil
}

func (s *SqliteStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *SqliteStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clause, args, err := s.where(collection, filter)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, opts.Skip)
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM documents WHERE "+clause+" ORDER BY seq LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Document{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (s *SqliteStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clause, args, err := s.where(collection, filter)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE "+clause, args...).Scan(&n)
	return n, err
}

func (s *SqliteStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	ids, err := s.InsertMany(ctx, collection, []Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *SqliteStore) InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		id := NewID()
		b, err := json.Marshal(withID(doc, id))
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)",
			collection, id, string(b),
		); err != nil {
			return nil, sqliteErr(err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, sqliteErr(err)
	}
	return ids, nil
}

// modify loads the first match inside a transaction, lets fn compute the new
// body and writes it back.
func (s *SqliteStore) modify(ctx context.Context, collection string, filter Filter, fn func(current Document) Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clause, args, err := s.where(collection, filter)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT seq, data FROM documents WHERE "+clause+" ORDER BY seq LIMIT 1", args...,
	).Scan(&seq, &raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var current Document
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return false, err
	}
	b, err := json.Marshal(fn(current))
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET data = ? WHERE seq = ?", string(b), seq); err != nil {
		return false, sqliteErr(err)
	}
	return true, sqliteErr(tx.Commit())
}

func (s *SqliteStore) ReplaceOne(ctx context.Context, collection string, filter Filter, doc Document) (bool, error) {
	return s.modify(ctx, collection, filter, func(current Document) Document {
		id, _ := current[IDKey].(string)
		return withID(doc, id)
	})
}

func (s *SqliteStore) UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (bool, error) {
	return s.modify(ctx, collection, filter, func(current Document) Document {
		return merge(current, set)
	})
}

func (s *SqliteStore) DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clause, args, err := s.where(collection, filter)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE seq = (SELECT seq FROM documents WHERE "+clause+" ORDER BY seq LIMIT 1)",
		args...,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SqliteStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ddl := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents (json_extract(data, %s)) WHERE collection = %s",
		indexName(collection, field), quoteLiteral(jsonPath(field)), quoteLiteral(collection),
	)
	_, err := s.db.ExecContext(ctx, ddl)
	return sqliteErr(err)
}

// sqliteErr maps unique-constraint failures from either driver to
// ErrDuplicateKey.
func sqliteErr(err error) error {
	if err == nil {
		return nil
	}
	var ce sqlite3.Error
	if errors.As(err, &ce) && ce.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	var pe *msqlite.Error
	if errors.As(err, &pe) && pe.Code() == msqlitelib.SQLITE_CONSTRAINT_UNIQUE {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// sqliteBusy reports lock contention, which is worth retrying.
func sqliteBusy(err error) bool {
	var ce sqlite3.Error
	if errors.As(err, &ce) {
		return ce.Code == sqlite3.ErrBusy || ce.Code == sqlite3.ErrLocked
	}
	var pe *msqlite.Error
	if errors.As(err, &pe) {
		code := pe.Code() & 0xff
		return code == msqlitelib.SQLITE_BUSY || code == msqlitelib.SQLITE_LOCKED
	}
	return false
}
