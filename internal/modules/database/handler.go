package database

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// Handler exposes HTTP handlers for database provisioning.
type Handler struct {
	svc *Service
}

// NewHandler creates the database HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the database endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/databases", h.createDatabase)
	r.Get("/sites/{domain}/databases", h.listDatabases)
	r.Delete("/databases/{id}", h.deleteDatabase)
}

func (h *Handler) createDatabase(w http.ResponseWriter, r *http.Request) {
	var req CreateDatabaseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.svc.CreateDatabase(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrSiteNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) listDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := h.svc.ListDatabases(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		if errors.Is(err, ErrSiteNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to list databases", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"databases": dbs})
}

func (h *Handler) deleteDatabase(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid database id", http.StatusBadRequest)
		return
	}
	if err := h.svc.DeleteDatabase(r.Context(), id); err != nil {
		if errors.Is(err, ErrDatabaseNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
