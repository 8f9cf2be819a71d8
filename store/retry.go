package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of idempotent store calls.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy is used when the configuration leaves retries unset.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 50 * time.Millisecond,
	MaxElapsedTime:  2 * time.Second,
	MaxRetries:      3,
}

// Transient reports whether err is a storage failure worth retrying:
// dropped connections, lock contention, network errors. Context
// cancellation and deadlines are never transient.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || sqliteBusy(err) || pgTransient(err) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// retryStore retries reads and index creation on transient errors. Writes
// pass straight through: a retried insert could duplicate the record.
type retryStore struct {
	Store
	policy RetryPolicy
}

// WithRetry wraps s so that idempotent calls are retried under policy.
func WithRetry(s Store, policy RetryPolicy) Store {
	return &retryStore{Store: s, policy: policy}
}

func (r *retryStore) do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxElapsedTime = r.policy.MaxElapsedTime
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, r.policy.MaxRetries), ctx))
}

func (r *retryStore) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	var doc Document
	err := r.do(ctx, func() (err error) {
		doc, err = r.Store.FindOne(ctx, collection, filter)
		return err
	})
	return doc, err
}

func (r *retryStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	var docs []Document
	err := r.do(ctx, func() (err error) {
		docs, err = r.Store.Find(ctx, collection, filter, opts)
		return err
	})
	return docs, err
}

func (r *retryStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	var n int
	err := r.do(ctx, func() (err error) {
		n, err = r.Store.Count(ctx, collection, filter)
		return err
	})
	return n, err
}

func (r *retryStore) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	return r.do(ctx, func() error {
		return r.Store.EnsureUniqueIndex(ctx, collection, field)
	})
}
