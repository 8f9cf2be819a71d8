package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/stevemurr/masterlist/filter"
	"github.com/stevemurr/masterlist/importer"
	"github.com/stevemurr/masterlist/registry"
	"github.com/stevemurr/masterlist/schema"
	"github.com/stevemurr/masterlist/store"
)

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	page, size, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()

	total, err := h.store.Count(ctx, route.Collection, nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	docs, err := h.store.Find(ctx, route.Collection, nil, store.FindOptions{Skip: (page - 1) * size, Limit: size})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      docs,
		"total":      total,
		"page":       page,
		"pageSize":   size,
		"totalPages": registry.TotalPages(total, size),
	})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	doc, err := h.store.FindOne(ctx, route.Collection, store.Filter{store.IDKey: id})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", schema.ErrRecordNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) filterDocuments(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Filter string `json:"filter"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	terms, err := filter.Parse(req.Filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q, err := filter.Build(route.Definition, terms)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	docs, err := h.store.Find(ctx, route.Collection, q, store.FindOptions{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"total": len(docs),
	})
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	if err := readJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	record, err := route.Validator.ValidateCreate(ctx, doc)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.store.InsertOne(ctx, route.Collection, record)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "record created",
		"id":      id,
	})
}

func (h *Handler) updateDocument(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	var patch map[string]any
	if err := readJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	set, err := route.Validator.ValidateUpdate(ctx, id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	found, err := h.store.UpdateOne(ctx, route.Collection, store.Filter{store.IDKey: id}, set)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", schema.ErrRecordNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "record updated",
		"id":      id,
	})
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	existed, err := h.store.DeleteOne(ctx, route.Collection, store.Filter{store.IDKey: id})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%s: %s", schema.ErrRecordNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "record deleted",
		"id":      id,
	})
}

func (h *Handler) importDocuments(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	format, err := importer.FormatOf(header.Filename)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// One lookup per unique field per row; bounded by the request, not the
	// per-call store timeout.
	res, err := h.importer.Import(r.Context(), route.Validator, route.Collection, file, format)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) exportDocuments(w http.ResponseWriter, r *http.Request) {
	route, ok := h.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	win, err := importer.ParseWindow(q.Get("date"), q.Get("since"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	format, err := importer.ParseFormat(q.Get("format"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()

	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if _, err := h.importer.Export(ctx, route.Definition, route.Collection, win, format, &buf); err != nil {
		h.fail(w, r, err)
		return
	}
	suffix := "all"
	if d := q.Get("date"); d != "" {
		suffix = d
	} else if s := q.Get("since"); s != "" {
		suffix = "since_" + strings.NewReplacer(":", "", "-", "").Replace(s)
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.%s"`, route.Definition.Name, suffix, format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
