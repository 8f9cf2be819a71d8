package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/masterlist/store"
)

// runStoreTests runs a common test suite against any Store implementation.
func runStoreTests(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("Find empty", func(t *testing.T) {
		docs, err := s.Find(ctx, "test", nil, store.FindOptions{})
		require.NoError(t, err)
		assert.Empty(t, docs)

		doc, err := s.FindOne(ctx, "test", store.Filter{"a": "b"})
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	var firstID string
	t.Run("InsertOne and FindOne", func(t *testing.T) {
		id, err := s.InsertOne(ctx, "col1", store.Document{"title": "hello", "count": int64(42), "tags": []any{"a", "b"}})
		require.NoError(t, err)
		require.True(t, store.ValidID(id), "id %q", id)
		firstID = id

		got, err := s.FindOne(ctx, "col1", store.Filter{"title": "hello"})
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id, got[store.IDKey])
		assert.Equal(t, float64(42), got["count"])

		got, err = s.FindOne(ctx, "col1", store.Filter{"count": int64(42)})
		require.NoError(t, err)
		require.NotNil(t, got, "numeric filter should match")

		got, err = s.FindOne(ctx, "col1", store.Filter{"tags": []any{"a", "b"}})
		require.NoError(t, err)
		require.NotNil(t, got, "list filter should match")

		got, err = s.FindOne(ctx, "col1", store.Filter{store.IDKey: id})
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("FindOne missing", func(t *testing.T) {
		got, err := s.FindOne(ctx, "col1", store.Filter{"title": "missing"})
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = s.FindOne(ctx, "col1", store.Filter{"count": "42"})
		require.NoError(t, err)
		assert.Nil(t, got, "string must not match a number")
	})

	t.Run("Collections are separate", func(t *testing.T) {
		n, err := s.Count(ctx, "col2", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("UpdateOne sets keys", func(t *testing.T) {
		found, err := s.UpdateOne(ctx, "col1", store.Filter{store.IDKey: firstID}, store.Document{"title": "updated", "extra": true})
		require.NoError(t, err)
		require.True(t, found)

		got, err := s.FindOne(ctx, "col1", store.Filter{store.IDKey: firstID})
		require.NoError(t, err)
		assert.Equal(t, "updated", got["title"])
		assert.Equal(t, true, got["extra"])
		assert.Equal(t, float64(42), got["count"], "untouched keys survive")

		found, err = s.UpdateOne(ctx, "col1", store.Filter{"title": "nope"}, store.Document{"x": 1})
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ReplaceOne keeps id", func(t *testing.T) {
		found, err := s.ReplaceOne(ctx, "col1", store.Filter{store.IDKey: firstID}, store.Document{"title": "replaced"})
		require.NoError(t, err)
		require.True(t, found)

		got, err := s.FindOne(ctx, "col1", store.Filter{store.IDKey: firstID})
		require.NoError(t, err)
		assert.Equal(t, "replaced", got["title"])
		assert.NotContains(t, got, "count")
	})

	t.Run("Find paginates in insertion order", func(t *testing.T) {
		for i := 1; i <= 25; i++ {
			_, err := s.InsertOne(ctx, "pages", store.Document{"n": i, "parity": i % 2})
			require.NoError(t, err)
		}
		page2, err := s.Find(ctx, "pages", nil, store.FindOptions{Skip: 10, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page2, 10)
		assert.Equal(t, float64(11), page2[0]["n"])
		assert.Equal(t, float64(20), page2[9]["n"])

		page3, err := s.Find(ctx, "pages", nil, store.FindOptions{Skip: 20, Limit: 10})
		require.NoError(t, err)
		require.Len(t, page3, 5)
		assert.Equal(t, float64(25), page3[4]["n"])

		n, err := s.Count(ctx, "pages", store.Filter{"parity": 1})
		require.NoError(t, err)
		assert.Equal(t, 13, n)
	})

	t.Run("Unique index rejects duplicates", func(t *testing.T) {
		require.NoError(t, s.EnsureUniqueIndex(ctx, "users", "email"))
		require.NoError(t, s.EnsureUniqueIndex(ctx, "users", "email"), "idempotent")

		id, err := s.InsertOne(ctx, "users", store.Document{"email": "a@example.com"})
		require.NoError(t, err)
		_, err = s.InsertOne(ctx, "users", store.Document{"email": "a@example.com"})
		assert.True(t, errors.Is(err, store.ErrDuplicateKey), "got %v", err)

		// Documents without the field are exempt.
		_, err = s.InsertOne(ctx, "users", store.Document{"name": "x"})
		require.NoError(t, err)
		_, err = s.InsertOne(ctx, "users", store.Document{"name": "y"})
		require.NoError(t, err)

		other, err := s.InsertOne(ctx, "users", store.Document{"email": "b@example.com"})
		require.NoError(t, err)
		_, err = s.UpdateOne(ctx, "users", store.Filter{store.IDKey: other}, store.Document{"email": "a@example.com"})
		assert.True(t, errors.Is(err, store.ErrDuplicateKey), "got %v", err)

		// Rewriting a document with its own value is fine.
		_, err = s.UpdateOne(ctx, "users", store.Filter{store.IDKey: id}, store.Document{"email": "a@example.com"})
		require.NoError(t, err)

		// The same field in another collection is not constrained.
		_, err = s.InsertOne(ctx, "accounts", store.Document{"email": "a@example.com"})
		require.NoError(t, err)
		_, err = s.InsertOne(ctx, "accounts", store.Document{"email": "a@example.com"})
		require.NoError(t, err)
	})

	t.Run("InsertMany is all or nothing", func(t *testing.T) {
		require.NoError(t, s.EnsureUniqueIndex(ctx, "batch", "code"))
		ids, err := s.InsertMany(ctx, "batch", []store.Document{{"code": "a"}, {"code": "b"}})
		require.NoError(t, err)
		assert.Len(t, ids, 2)

		_, err = s.InsertMany(ctx, "batch", []store.Document{{"code": "c"}, {"code": "a"}})
		assert.True(t, errors.Is(err, store.ErrDuplicateKey), "got %v", err)

		n, err := s.Count(ctx, "batch", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("DeleteOne", func(t *testing.T) {
		found, err := s.DeleteOne(ctx, "col1", store.Filter{store.IDKey: firstID})
		require.NoError(t, err)
		assert.True(t, found)

		found, err = s.DeleteOne(ctx, "col1", store.Filter{store.IDKey: firstID})
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, store.NewMemoryStore())
}

func TestJsonFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	runStoreTests(t, s)

	// Verify files were created
	_, err = os.Stat(filepath.Join(dir, "col1.json"))
	assert.NoError(t, err)
}

func TestJsonFileStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.EnsureUniqueIndex(ctx, "users", "email"))
	_, err = s1.InsertOne(ctx, "users", store.Document{"email": "a@example.com"})
	require.NoError(t, err)

	s2, err := store.NewJsonFileStore(dir)
	require.NoError(t, err)
	n, err := s2.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s2.InsertOne(ctx, "users", store.Document{"email": "a@example.com"})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestSqliteStore(t *testing.T) {
	for _, driver := range []string{store.DriverCgo, store.DriverPure} {
		t.Run(driver, func(t *testing.T) {
			s, err := store.NewSqliteStore(driver, filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			defer s.Close()
			runStoreTests(t, s)
		})
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MASTERLIST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MASTERLIST_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := store.NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	// Collections are namespaced per run so reruns start empty.
	runStoreTests(t, &prefixed{Store: s, prefix: fmt.Sprintf("t%d_", os.Getpid())})
}

func TestUniqueIndexOverExistingDuplicates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	for i := 0; i < 2; i++ {
		_, err := s.InsertOne(ctx, "dups", store.Document{"code": "same"})
		require.NoError(t, err)
	}
	assert.ErrorIs(t, s.EnsureUniqueIndex(ctx, "dups", "code"), store.ErrDuplicateKey)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.New(ctx, store.Options{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	s, err = store.New(ctx, store.Options{Backend: "", DataDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &store.JsonFileStore{}, s)

	s, err = store.New(ctx, store.Options{Backend: "sqlite", DataDir: dir, SQLiteDriver: "pure"})
	require.NoError(t, err)
	assert.IsType(t, &store.SqliteStore{}, s)
	require.NoError(t, s.Close())

	_, err = store.New(ctx, store.Options{Backend: "sqlite", DataDir: dir, SQLiteDriver: "bogus"})
	assert.Error(t, err)

	_, err = store.New(ctx, store.Options{Backend: "postgres"})
	assert.Error(t, err)

	_, err = store.New(ctx, store.Options{Backend: "mongo"})
	assert.Error(t, err)
}

// prefixed namespaces every collection of the wrapped store.
type prefixed struct {
	store.Store
	prefix string
}

func (p *prefixed) FindOne(ctx context.Context, c string, f store.Filter) (store.Document, error) {
	return p.Store.FindOne(ctx, p.prefix+c, f)
}

func (p *prefixed) Find(ctx context.Context, c string, f store.Filter, o store.FindOptions) ([]store.Document, error) {
	return p.Store.Find(ctx, p.prefix+c, f, o)
}

func (p *prefixed) Count(ctx context.Context, c string, f store.Filter) (int, error) {
	return p.Store.Count(ctx, p.prefix+c, f)
}

func (p *prefixed) InsertOne(ctx context.Context, c string, d store.Document) (string, error) {
	return p.Store.InsertOne(ctx, p.prefix+c, d)
}

func (p *prefixed) InsertMany(ctx context.Context, c string, d []store.Document) ([]string, error) {
	return p.Store.InsertMany(ctx, p.prefix+c, d)
}

func (p *prefixed) ReplaceOne(ctx context.Context, c string, f store.Filter, d store.Document) (bool, error) {
	return p.Store.ReplaceOne(ctx, p.prefix+c, f, d)
}

func (p *prefixed) UpdateOne(ctx context.Context, c string, f store.Filter, d store.Document) (bool, error) {
	return p.Store.UpdateOne(ctx, p.prefix+c, f, d)
}

func (p *prefixed) DeleteOne(ctx context.Context, c string, f store.Filter) (bool, error) {
	return p.Store.DeleteOne(ctx, p.prefix+c, f)
}

func (p *prefixed) EnsureUniqueIndex(ctx context.Context, c, field string) error {
	return p.Store.EnsureUniqueIndex(ctx, p.prefix+c, field)
}
