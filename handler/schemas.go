package handler

import (
	"net/http"

	"github.com/stevemurr/masterlist/schema"
)

func (h *Handler) createSchema(w http.ResponseWriter, r *http.Request) {
	var def schema.Definition
	if err := readJSON(r, &def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	created, err := h.registry.Register(ctx, def)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "schema created",
		"name":    created.Name,
	})
}

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	listing, err := h.registry.List(ctx, page, size)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeContext(r)
	defer cancel()
	def, err := h.registry.Get(ctx, r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) getJSONSchema(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeContext(r)
	defer cancel()
	def, err := h.registry.Get(ctx, r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def.JSONSchema())
}

func (h *Handler) replaceFields(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields []schema.Field `json:"fields"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	ctx, cancel := h.storeContext(r)
	defer cancel()
	def, err := h.registry.ReplaceFields(ctx, r.PathValue("name"), req.Fields)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "fields replaced",
		"name":    def.Name,
		"fields":  def.Fields,
	})
}
