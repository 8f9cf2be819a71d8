package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*docSet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*docSet),
	}
}

// coll returns the named collection, creating it when create is set.
func (m *MemoryStore) coll(name string, create bool) *docSet {
	c, ok := m.collections[name]
	if !ok && create {
		c = &docSet{}
		m.collections[name] = c
	}
	return c
}

func (m *MemoryStore) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.coll(collection, false)
	if c == nil {
		return nil, nil
	}
	docs := c.find(filter, FindOptions{Limit: 1})
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (m *MemoryStore) Find(_ context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.coll(collection, false)
	if c == nil {
		return []Document{}, nil
	}
	return c.find(filter, opts), nil
}

func (m *MemoryStore) Count(_ context.Context, collection string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.coll(collection, false)
	if c == nil {
		return 0, nil
	}
	return c.count(filter), nil
}

func (m *MemoryStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	ids, err := m.InsertMany(ctx, collection, []Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (m *MemoryStore) InsertMany(_ context.Context, collection string, docs []Document) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coll(collection, true).insert(docs)
}

func (m *MemoryStore) ReplaceOne(_ context.Context, collection string, filter Filter, doc Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection, false)
	if c == nil {
		return false, nil
	}
	return c.replace(filter, doc)
}

func (m *MemoryStore) UpdateOne(_ context.Context, collection string, filter Filter, set Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection, false)
	if c == nil {
		return false, nil
	}
	return c.update(filter, set)
}

func (m *MemoryStore) DeleteOne(_ context.Context, collection string, filter Filter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection, false)
	if c == nil {
		return false, nil
	}
	return c.delete(filter), nil
}

func (m *MemoryStore) EnsureUniqueIndex(_ context.Context, collection, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coll(collection, true).ensureUnique(field)
}

func (m *MemoryStore) Close() error {
	return nil
}
