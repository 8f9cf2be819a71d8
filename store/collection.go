package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
)

// docSet is the in-process representation shared by MemoryStore and
// JsonFileStore. Callers hold the owning store's lock.
type docSet struct {
	Documents []Document `json:"documents"`
	Unique    []string   `json:"uniqueIndexes,omitempty"`
}

// deepCopy returns a deep copy of a document by round-tripping through JSON.
// Numbers come back as float64, which keeps equality checks uniform.
func deepCopy(src Document) Document {
	if src == nil {
		return nil
	}
	b, _ := json.Marshal(src)
	var dst Document
	_ = json.Unmarshal(b, &dst)
	return dst
}

func matches(doc Document, filter Filter) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func (c *docSet) indexOf(filter Filter) int {
	filter = deepCopy(filter)
	for i, doc := range c.Documents {
		if matches(doc, filter) {
			return i
		}
	}
	return -1
}

func (c *docSet) find(filter Filter, opts FindOptions) []Document {
	filter = deepCopy(filter)
	out := []Document{}
	skipped := 0
	for _, doc := range c.Documents {
		if !matches(doc, filter) {
			continue
		}
		if skipped < opts.Skip {
			skipped++
			continue
		}
		out = append(out, deepCopy(doc))
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

func (c *docSet) count(filter Filter) int {
	filter = deepCopy(filter)
	n := 0
	for _, doc := range c.Documents {
		if matches(doc, filter) {
			n++
		}
	}
	return n
}

// conflict reports a unique-index violation between doc and any document in
// others other than the one at position skip.
func (c *docSet) conflict(doc Document, others []Document, skip int) error {
	for _, field := range c.Unique {
		v, ok := doc[field]
		if !ok {
			continue
		}
		for i, other := range others {
			if i == skip {
				continue
			}
			if ov, ok := other[field]; ok && reflect.DeepEqual(ov, v) {
				return fmt.Errorf("%w: %s", ErrDuplicateKey, field)
			}
		}
	}
	return nil
}

func (c *docSet) insert(docs []Document) ([]string, error) {
	pending := make([]Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		d := deepCopy(doc)
		if d == nil {
			d = Document{}
		}
		id := NewID()
		d[IDKey] = id
		if err := c.conflict(d, c.Documents, -1); err != nil {
			return nil, err
		}
		if err := c.conflict(d, pending, -1); err != nil {
			return nil, err
		}
		pending = append(pending, d)
		ids = append(ids, id)
	}
	c.Documents = append(c.Documents, pending...)
	return ids, nil
}

func (c *docSet) replace(filter Filter, doc Document) (bool, error) {
	i := c.indexOf(filter)
	if i < 0 {
		return false, nil
	}
	d := deepCopy(doc)
	if d == nil {
		d = Document{}
	}
	d[IDKey] = c.Documents[i][IDKey]
	if err := c.conflict(d, c.Documents, i); err != nil {
		return false, err
	}
	c.Documents[i] = d
	return true, nil
}

func (c *docSet) update(filter Filter, set Document) (bool, error) {
	i := c.indexOf(filter)
	if i < 0 {
		return false, nil
	}
	d := deepCopy(c.Documents[i])
	for k, v := range deepCopy(set) {
		if k == IDKey {
			continue
		}
		d[k] = v
	}
	if err := c.conflict(d, c.Documents, i); err != nil {
		return false, err
	}
	c.Documents[i] = d
	return true, nil
}

func (c *docSet) delete(filter Filter) bool {
	i := c.indexOf(filter)
	if i < 0 {
		return false
	}
	c.Documents = slices.Delete(c.Documents, i, i+1)
	return true
}

// ensureUnique adds a unique index on field, failing if existing documents
// already collide.
func (c *docSet) ensureUnique(field string) error {
	if slices.Contains(c.Unique, field) {
		return nil
	}
	probe := &docSet{Unique: []string{field}}
	for i, doc := range c.Documents {
		if err := probe.conflict(doc, c.Documents[:i], -1); err != nil {
			return err
		}
	}
	c.Unique = append(c.Unique, field)
	return nil
}
