package httpapi

import (
	"net/http"

	"github.com/exzibtx/deployd/internal/service"
	"github.com/exzibtx/deployd/pkg/httpx"
)

// CollectionHandler serves one user collection's CRUD surface.
type CollectionHandler struct {
	Users    *service.UserCollection
	Sessions *service.SessionService
}

// HandlePost creates a record, or updates one when the body carries an id.
func (h *CollectionHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body, _ := httpx.ReadJSONBody(r)
	rec, err := h.Users.Post(r.Context(), caller, r.PathValue("id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

// HandleUpdateOne merges the submitted fields into one record.
func (h *CollectionHandler) HandleUpdateOne(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body, _ := httpx.ReadJSONBody(r)
	rec, err := h.Users.Update(r.Context(), caller, r.PathValue("id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

// HandleBulkUpdate applies the body's changes to every record matching the
// URL query.
func (h *CollectionHandler) HandleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body, _ := httpx.ReadJSONBody(r)
	results, err := h.Users.UpdateMatching(r.Context(), caller, parseQuery(r), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}

// HandleGetOne fetches one record by id.
func (h *CollectionHandler) HandleGetOne(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rec, err := h.Users.Get(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

// HandleList returns every record matching the URL query.
func (h *CollectionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	results, err := h.Users.List(r.Context(), caller, parseQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}

// HandleDeleteOne removes one record. Absent records are a 204 too.
func (h *CollectionHandler) HandleDeleteOne(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Users.Delete(r.Context(), caller, r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBulkDelete removes every record matching the URL query.
func (h *CollectionHandler) HandleBulkDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	n, err := h.Users.DeleteMatching(r.Context(), caller, parseQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
