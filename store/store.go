// Package store defines the document store interface and its implementations.
package store

import (
	"context"
	"errors"
)

// Document is one stored record. Every stored document carries a string "_id".
type Document = map[string]any

// Filter is an exact-match conjunction over top-level document keys.
type Filter = map[string]any

// IDKey is the key holding a document's identifier.
const IDKey = "_id"

// ErrDuplicateKey is returned when a write would violate a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// FindOptions bounds a Find. A zero Limit means no limit.
type FindOptions struct {
	Skip  int
	Limit int
}

// Store is the interface that all backing stores must implement.
// It operates on named collections of documents. Documents come back in
// insertion order.
type Store interface {
	// FindOne returns the first document matching filter, or nil.
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)

	// Find returns the matching documents in insertion order.
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// InsertOne stores doc under a new identifier and returns it.
	InsertOne(ctx context.Context, collection string, doc Document) (string, error)

	// InsertMany stores all docs or none of them.
	InsertMany(ctx context.Context, collection string, docs []Document) ([]string, error)

	// ReplaceOne swaps the body of the first matching document, keeping its
	// identifier. Returns true if a document matched.
	ReplaceOne(ctx context.Context, collection string, filter Filter, doc Document) (bool, error)

	// UpdateOne sets the given top-level keys on the first matching document.
	// Returns true if a document matched.
	UpdateOne(ctx context.Context, collection string, filter Filter, set Document) (bool, error)

	// DeleteOne removes the first matching document. Returns true if it existed.
	DeleteOne(ctx context.Context, collection string, filter Filter) (bool, error)

	// EnsureUniqueIndex makes the store reject two documents in collection
	// with equal values for field. Documents lacking the field are exempt.
	// Calling it again for the same pair is a no-op.
	EnsureUniqueIndex(ctx context.Context, collection, field string) error

	Close() error
}
