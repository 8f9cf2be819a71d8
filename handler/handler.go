// Package handler provides the HTTP handlers for the masterlist server.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stevemurr/masterlist/importer"
	"github.com/stevemurr/masterlist/registry"
	"github.com/stevemurr/masterlist/schema"
	"github.com/stevemurr/masterlist/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Options tune request handling.
type Options struct {
	// Timeout bounds the store calls of one request.
	Timeout        time.Duration
	MaxUploadBytes int64
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	registry *registry.Registry
	store    store.Store
	importer *importer.Importer
	log      logrus.FieldLogger
	opts     Options
	mux      *http.ServeMux
}

// New creates a Handler and wires up all routes.
func New(reg *registry.Registry, s store.Store, im *importer.Importer, log logrus.FieldLogger, opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	h := &Handler{
		registry: reg,
		store:    s,
		importer: im,
		log:      log,
		opts:     opts,
		mux:      http.NewServeMux(),
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("GET /health", h.health)

	// --- Schema endpoints ---
	h.mux.HandleFunc("POST /schemas", h.createSchema)
	h.mux.HandleFunc("GET /schemas", h.listSchemas)
	h.mux.HandleFunc("GET /schemas/{name}", h.getSchema)
	h.mux.HandleFunc("GET /schemas/{name}/jsonschema", h.getJSONSchema)
	h.mux.HandleFunc("PUT /schemas/{name}/fields", h.replaceFields)

	// --- Export ---
	h.mux.HandleFunc("GET /export/{schema}", h.exportDocuments)

	// --- Per-schema document endpoints, resolved at request time ---
	h.mux.HandleFunc("GET /{schema}", h.listDocuments)
	h.mux.HandleFunc("POST /{schema}", h.createDocument)
	h.mux.HandleFunc("POST /{schema}/filter", h.filterDocuments)
	h.mux.HandleFunc("POST /{schema}/import", h.importDocuments)
	h.mux.HandleFunc("GET /{schema}/{id}", h.getDocument)
	h.mux.HandleFunc("PUT /{schema}/{id}", h.updateDocument)
	h.mux.HandleFunc("DELETE /{schema}/{id}", h.deleteDocument)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// fail writes err with the status its cause maps to.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, err.Error())
}

func statusOf(err error) int {
	is := func(targets ...error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	switch {
	case is(schema.ErrSchemaNotFound, schema.ErrRecordNotFound):
		return http.StatusNotFound
	case is(schema.ErrDuplicateSchema, schema.ErrUniquenessViolation, store.ErrDuplicateKey):
		return http.StatusConflict
	case is(schema.ErrTypeMismatch, schema.ErrInvalidValue, schema.ErrInvalidKey,
		schema.ErrMissingKey, schema.ErrMissingField, schema.ErrUnknownField):
		return http.StatusUnprocessableEntity
	case is(schema.ErrInvalidSchemaName, schema.ErrInvalidDefinition, schema.ErrFilterSyntax,
		schema.ErrInvalidIdentifier, importer.ErrUnsupportedFormat, importer.ErrNoHeader, importer.ErrUnreadableFile):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// storeContext bounds the store calls made while serving r.
func (h *Handler) storeContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.opts.Timeout)
}

// paging reads page and pageSize from the query string.
func paging(r *http.Request) (page, size int, err error) {
	page, size = 1, defaultPageSize
	q := r.URL.Query()
	if s := q.Get("page"); s != "" {
		page, err = strconv.Atoi(s)
		if err != nil || page < 1 {
			return 0, 0, fmt.Errorf("page must be a positive integer, got %q", s)
		}
	}
	if s := q.Get("pageSize"); s != "" {
		size, err = strconv.Atoi(s)
		if err != nil || size < 1 || size > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d, got %q", maxPageSize, s)
		}
	}
	if page-1 > math.MaxInt/size {
		return 0, 0, fmt.Errorf("page %d is out of range", page)
	}
	return page, size, nil
}

// lookup resolves the schema named in the path to its route.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*registry.Route, bool) {
	name := r.PathValue("schema")
	route, ok := h.registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", schema.ErrSchemaNotFound, name))
		return nil, false
	}
	return route, true
}

// documentID returns the id path value if it is well formed.
func documentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !store.ValidID(id) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %q", schema.ErrInvalidIdentifier, id))
		return "", false
	}
	return id, true
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "masterlist",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"schemas": len(h.registry.Names()),
	})
}
