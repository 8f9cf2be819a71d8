package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps every collection in one JSONB table.
//
// Tables:
//
//	documents(seq BIGSERIAL, collection, id, data JSONB)  UNIQUE (collection, id)
//
// Unique indexes are partial expression indexes on (data -> 'field').
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS documents (
		seq BIGSERIAL PRIMARY KEY,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		UNIQUE (collection, id)
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// where builds the predicate for filter inside collection. args already
// holds the earlier positional arguments of the statement.
func (s *PostgresStore) where(collection string, filter Filter, args []any) (string, []any, error) {
	args = append(args, collection)
	var b strings.Builder
	fmt.Fprintf(&b, "collection = $%d", len(args))
	for _, k := range filterKeys(filter) {
		v := filter[k]
		if id, ok := v.(string); ok && k == IDKey {
			args = append(args, id)
			fmt.Fprintf(&b, " AND id = $%d", len(args))
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("filter %s: %w", k, err)
		}
		args = append(args, k, string(raw))
		fmt.Fprintf(&b, " AND data -> $%d::text = $%d::jsonb", len(args)-1, len(args))
	}
	return b.String(), args, nil
}

func (s *PostgresStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *PostgresStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	clause, args, err := s.where(collection, filter, nil)
	if err != nil {
		return nil, err
	}
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	args = append(args, limit, opts.Skip)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT data FROM documents WHERE %s ORDER BY seq LIMIT $%d OFFSET $%d",
		clause, len(args)-1, len(args),
	), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Document{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	clause, args, err := s.where(collection, filter, nil)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents WHERE "+clause, args...).Scan(&n)
	return n, err
}

func (s *PostgresStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	ids, err := s.InsertMany(ctx, collection, []Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *PostgresStore) InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, doc := range docs {
			id := NewID()
			raw, err := json.Marshal(withID(doc, id))
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)",
				collection, id, string(raw),
			); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, pgErr(err)
	}
	return ids, nil
}

// exec runs a statement that targets the first document matching filter.
// target is a format string with one %s for the seq subquery.
func (s *PostgresStore) exec(ctx context.Context, collection string, filter Filter, args []any, target string) (bool, error) {
	clause, args, err := s.where(collection, filter, args)
	if err != nil {
		return false, err
	}
	sub := "(SELECT seq FROM documents WHERE " + clause + " ORDER BY seq LIMIT 1)"
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(target, sub), args...)
	if err != nil {
		return false, pgErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReplaceOne(ctx context.Context, collection string, filter Filter, doc Document) (bool, error) {
	body := make(Document, len(doc))
	for k, v := range doc {
		if k != IDKey {
			body[k] = v
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return false, err
	}
	return s.exec(ctx, collection, filter, []any{string(raw)},
		"UPDATE documents SET data = $1::jsonb || jsonb_build_object('_id', id) WHERE seq = %s")
}

func (s *PostgresStore) UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (bool, error) {
	patch := make(Document, len(set))
	for k, v := range set {
		if k != IDKey {
			patch[k] = v
		}
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return false, err
	}
	return s.exec(ctx, collection, filter, []any{string(raw)},
		"UPDATE documents SET data = data || $1::jsonb WHERE seq = %s")
}

func (s *PostgresStore) DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error) {
	return s.exec(ctx, collection, filter, nil, "DELETE FROM documents WHERE seq = %s")
}

func (s *PostgresStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	ddl := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents ((data -> %s)) WHERE collection = %s",
		indexName(collection, field), quoteLiteral(field), quoteLiteral(collection),
	)
	_, err := s.pool.Exec(ctx, ddl)
	return pgErr(err)
}

// pgErr maps unique violations (SQLSTATE 23505) to ErrDuplicateKey.
func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pe.Detail)
	}
	return err
}

// pgTransient reports connection-level failures that are safe to retry.
func pgTransient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return strings.HasPrefix(pe.Code, "08") || pe.Code == "40001" || pe.Code == "57P01"
	}
	return false
}
