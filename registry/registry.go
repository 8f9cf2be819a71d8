// Package registry persists schema definitions and keeps the in-process
// route table that maps a schema name to its active binding.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stevemurr/masterlist/schema"
	"github.com/stevemurr/masterlist/store"
)

// Collection holds the persisted schema definitions.
const Collection = "_schemas"

// Route is the active binding for one schema.
type Route struct {
	Definition *schema.Definition
	Collection string
	Validator  *schema.Validator
}

// Summary is one entry of a schema listing.
type Summary struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Listing is a page of schema summaries.
type Listing struct {
	Schemas    []Summary `json:"schemas"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
}

// Registry owns the schema collection and the route table.
// Safe for concurrent use.
type Registry struct {
	store store.Store
	log   logrus.FieldLogger
	now   func() time.Time

	mu     sync.RWMutex
	routes map[string]*Route
}

// New returns a Registry over s. It makes schema names unique at the
// storage level before returning.
func New(ctx context.Context, s store.Store, log logrus.FieldLogger) (*Registry, error) {
	if err := s.EnsureUniqueIndex(ctx, Collection, "name"); err != nil {
		return nil, fmt.Errorf("indexing schema names: %w", err)
	}
	return &Registry{
		store:  s,
		log:    log,
		now:    time.Now,
		routes: make(map[string]*Route),
	}, nil
}

// WithClock overrides the time source used for createdAt stamps.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Register validates def, persists it and activates its route.
func (r *Registry) Register(ctx context.Context, def schema.Definition) (*schema.Definition, error) {
	if err := def.Normalize(); err != nil {
		return nil, err
	}
	existing, err := r.store.FindOne(ctx, Collection, store.Filter{"name": def.Name})
	if err != nil {
		return nil, fmt.Errorf("looking up schema %s: %w", def.Name, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrDuplicateSchema, def.Name)
	}

	def.CreatedAt = r.stamp()
	doc, err := toDocument(&def)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.InsertOne(ctx, Collection, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: %s", schema.ErrDuplicateSchema, def.Name)
		}
		return nil, fmt.Errorf("saving schema %s: %w", def.Name, err)
	}
	r.activate(ctx, &def)
	return &def, nil
}

// ReplaceFields swaps the field list of an existing schema and resets its
// createdAt. Documents already stored are left as they are.
func (r *Registry) ReplaceFields(ctx context.Context, name string, fields []schema.Field) (*schema.Definition, error) {
	name = schema.NormalizeName(name)
	normalized, err := schema.NormalizeFields(fields)
	if err != nil {
		return nil, err
	}
	def := &schema.Definition{Name: name, Fields: normalized, CreatedAt: r.stamp()}
	doc, err := toDocument(def)
	if err != nil {
		return nil, err
	}
	ok, err := r.store.ReplaceOne(ctx, Collection, store.Filter{"name": name}, doc)
	if err != nil {
		return nil, fmt.Errorf("replacing fields of %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrSchemaNotFound, name)
	}
	r.activate(ctx, def)
	return def, nil
}

// Get reads a definition from the store.
func (r *Registry) Get(ctx context.Context, name string) (*schema.Definition, error) {
	name = schema.NormalizeName(name)
	doc, err := r.store.FindOne(ctx, Collection, store.Filter{"name": name})
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", name, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", schema.ErrSchemaNotFound, name)
	}
	return fromDocument(doc)
}

// List returns one page of schema names with their creation dates.
// page starts at 1.
func (r *Registry) List(ctx context.Context, page, pageSize int) (*Listing, error) {
	total, err := r.store.Count(ctx, Collection, nil)
	if err != nil {
		return nil, fmt.Errorf("counting schemas: %w", err)
	}
	docs, err := r.store.Find(ctx, Collection, nil, store.FindOptions{Skip: (page - 1) * pageSize, Limit: pageSize})
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	out := &Listing{
		Schemas:    make([]Summary, 0, len(docs)),
		Total:      total,
		TotalPages: TotalPages(total, pageSize),
		Page:       page,
		PageSize:   pageSize,
	}
	for _, doc := range docs {
		def, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		out.Schemas = append(out.Schemas, Summary{Name: def.Name, CreatedAt: def.CreatedAt})
	}
	return out, nil
}

// LoadAll activates every persisted schema and returns how many were loaded.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	docs, err := r.store.Find(ctx, Collection, nil, store.FindOptions{})
	if err != nil {
		return 0, fmt.Errorf("loading schemas: %w", err)
	}
	n := 0
	for _, doc := range docs {
		def, err := fromDocument(doc)
		if err != nil {
			r.log.WithError(err).WithField("id", doc[store.IDKey]).Warn("skipping unreadable schema")
			continue
		}
		r.activate(ctx, def)
		n++
	}
	return n, nil
}

// Lookup returns the active route for name.
func (r *Registry) Lookup(name string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[schema.NormalizeName(name)]
	return route, ok
}

// Names returns the names of the active routes.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	return names
}

// activate indexes the unique fields of def and installs its route,
// replacing any previous binding for the same name.
func (r *Registry) activate(ctx context.Context, def *schema.Definition) {
	log := r.log.WithField("schema", def.Name)
	for _, field := range def.UniqueFields() {
		if err := r.store.EnsureUniqueIndex(ctx, def.Name, field); err != nil {
			log.WithError(err).WithField("field", field).Warn("unique index not created")
		}
	}
	route := &Route{
		Definition: def,
		Collection: def.Name,
		Validator:  schema.NewValidator(def, def.Name, r.store).WithClock(r.now),
	}
	r.mu.Lock()
	r.routes[def.Name] = route
	r.mu.Unlock()
	log.WithField("fields", len(def.Fields)).Info("schema activated")
}

func (r *Registry) stamp() time.Time {
	return r.now().UTC().Truncate(time.Second)
}

// TotalPages returns the number of pages of size pageSize needed for total items.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

func toDocument(def *schema.Definition) (store.Document, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encoding schema %s: %w", def.Name, err)
	}
	var doc store.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("encoding schema %s: %w", def.Name, err)
	}
	return doc, nil
}

func fromDocument(doc store.Document) (*schema.Definition, error) {
	body := make(store.Document, len(doc))
	for k, v := range doc {
		if k != store.IDKey {
			body[k] = v
		}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	var def schema.Definition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	return &def, nil
}
