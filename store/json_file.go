package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// JsonFileStore stores each collection as a separate JSON file on disk.
//
// Layout:
//
//	data_dir/
//	  _schemas.json   # schema definitions
//	  customers.json  # "customers" collection
//	  orders.json     # "orders" collection
//
// Each file holds the documents in insertion order plus the collection's
// unique indexes.
type JsonFileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewJsonFileStore(dir string) (*JsonFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JsonFileStore{dir: dir}, nil
}

func (s *JsonFileStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

func (s *JsonFileStore) loadCollection(collection string) (*docSet, error) {
	data, err := os.ReadFile(s.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return &docSet{}, nil
		}
		return nil, err
	}
	var c docSet
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *JsonFileStore) saveCollection(name string, c *docSet) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.collectionPath(name), b, 0o644)
}

// mutate loads a collection, applies fn and saves it if fn reports a change.
func (s *JsonFileStore) mutate(name string, fn func(c *docSet) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadCollection(name)
	if err != nil {
		return err
	}
	changed, err := fn(c)
	if err != nil || !changed {
		return err
	}
	return s.saveCollection(name, c)
}

func (s *JsonFileStore) FindOne(_ context.Context, collection string, filter Filter) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	docs := c.find(filter, FindOptions{Limit: 1})
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (s *JsonFileStore) Find(_ context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	return c.find(filter, opts), nil
}

func (s *JsonFileStore) Count(_ context.Context, collection string, filter Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.loadCollection(collection)
	if err != nil {
		return 0, err
	}
	return c.count(filter), nil
}

func (s *JsonFileStore) InsertOne(ctx context.Context, collection string, doc Document) (string, error) {
	ids, err := s.InsertMany(ctx, collection, []Document{doc})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (s *JsonFileStore) InsertMany(_ context.Context, collection string, docs []Document) ([]string, error) {
	var ids []string
	err := s.mutate(collection, func(c *docSet) (bool, error) {
		var err error
		ids, err = c.insert(docs)
		return err == nil, err
	})
	return ids, err
}

func (s *JsonFileStore) ReplaceOne(_ context.Context, collection string, filter Filter, doc Document) (bool, error) {
	var found bool
	err := s.mutate(collection, func(c *docSet) (bool, error) {
		var err error
		found, err = c.replace(filter, doc)
		return found, err
	})
	return found, err
}

func (s *JsonFileStore) UpdateOne(_ context.Context, collection string, filter Filter, set Document) (bool, error) {
	var found bool
	err := s.mutate(collection, func(c *docSet) (bool, error) {
		var err error
		found, err = c.update(filter, set)
		return found, err
	})
	return found, err
}

func (s *JsonFileStore) DeleteOne(_ context.Context, collection string, filter Filter) (bool, error) {
	var found bool
	err := s.mutate(collection, func(c *docSet) (bool, error) {
		found = c.delete(filter)
		return found, nil
	})
	return found, err
}

func (s *JsonFileStore) EnsureUniqueIndex(_ context.Context, collection, field string) error {
	return s.mutate(collection, func(c *docSet) (bool, error) {
		before := len(c.Unique)
		if err := c.ensureUnique(field); err != nil {
			return false, err
		}
		return len(c.Unique) != before, nil
	})
}

func (s *JsonFileStore) Close() error {
	return nil
}
