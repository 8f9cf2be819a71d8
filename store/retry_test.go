package store_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/masterlist/store"
)

// flakyStore fails the first failures calls of FindOne and InsertOne with err.
type flakyStore struct {
	*store.MemoryStore
	err      error
	failures int
	finds    int
	inserts  int
}

func (f *flakyStore) FindOne(ctx context.Context, collection string, filter store.Filter) (store.Document, error) {
	f.finds++
	if f.finds <= f.failures {
		return nil, f.err
	}
	return f.MemoryStore.FindOne(ctx, collection, filter)
}

func (f *flakyStore) InsertOne(ctx context.Context, collection string, doc store.Document) (string, error) {
	f.inserts++
	if f.inserts <= f.failures {
		return "", f.err
	}
	return f.MemoryStore.InsertOne(ctx, collection, doc)
}

var fastRetry = store.RetryPolicy{
	InitialInterval: time.Millisecond,
	MaxElapsedTime:  time.Second,
	MaxRetries:      3,
}

func TestRetryTransientRead(t *testing.T) {
	ctx := context.Background()
	f := &flakyStore{MemoryStore: store.NewMemoryStore(), err: driver.ErrBadConn, failures: 2}
	_, err := f.MemoryStore.InsertOne(ctx, "c", store.Document{"a": 1})
	require.NoError(t, err)

	s := store.WithRetry(f, fastRetry)
	doc, err := s.FindOne(ctx, "c", store.Filter{"a": 1})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 3, f.finds)
}

func TestRetryGivesUp(t *testing.T) {
	f := &flakyStore{MemoryStore: store.NewMemoryStore(), err: driver.ErrBadConn, failures: 100}
	_, err := store.WithRetry(f, fastRetry).FindOne(context.Background(), "c", nil)
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 4, f.finds)
}

func TestRetryPermanentError(t *testing.T) {
	boom := errors.New("syntax error")
	f := &flakyStore{MemoryStore: store.NewMemoryStore(), err: boom, failures: 100}
	_, err := store.WithRetry(f, fastRetry).FindOne(context.Background(), "c", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.finds)
}

func TestRetrySkipsWrites(t *testing.T) {
	f := &flakyStore{MemoryStore: store.NewMemoryStore(), err: driver.ErrBadConn, failures: 1}
	_, err := store.WithRetry(f, fastRetry).InsertOne(context.Background(), "c", store.Document{"a": 1})
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.Equal(t, 1, f.inserts)
}

func TestTransient(t *testing.T) {
	assert.True(t, store.Transient(driver.ErrBadConn))
	assert.False(t, store.Transient(context.DeadlineExceeded))
	assert.False(t, store.Transient(store.ErrDuplicateKey))
	assert.False(t, store.Transient(nil))
}

func TestValidID(t *testing.T) {
	assert.True(t, store.ValidID(store.NewID()))
	assert.False(t, store.ValidID("not-an-id"))
	assert.False(t, store.ValidID(""))
}
