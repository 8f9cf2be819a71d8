package store

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Helpers shared by the SQL-backed stores.

func filterKeys(filter Filter) []string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// jsonPath addresses a top-level key. Keys never contain a double quote.
func jsonPath(key string) string {
	return `$."` + key + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// indexName is stable for a (collection, field) pair and short enough for
// Postgres' 63-byte identifier limit.
func indexName(collection, field string) string {
	h := fnv.New64a()
	h.Write([]byte(collection))
	h.Write([]byte{0})
	h.Write([]byte(field))
	return fmt.Sprintf("uq_doc_%016x", h.Sum64())
}

// withID returns a shallow copy of doc carrying id.
func withID(doc Document, id string) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out[IDKey] = id
	return out
}

// merge returns current with the keys of set applied. The identifier is kept.
func merge(current, set Document) Document {
	out := make(Document, len(current)+len(set))
	for k, v := range current {
		out[k] = v
	}
	for k, v := range set {
		if k == IDKey {
			continue
		}
		out[k] = v
	}
	return out
}
