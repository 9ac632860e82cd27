package hosting

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes HTTP handlers for site lifecycle operations.
type Handler struct {
	svc *Service
}

// NewHandler creates the hosting HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the hosting endpoints on a router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/sites", h.listSites)
	r.Post("/sites", h.createSite)
	r.Route("/sites/{domain}", func(r chi.Router) {
		r.Get("/", h.getSite)
		r.Delete("/", h.deleteSite)
		r.Put("/php", h.changePHPVersion)
		r.Post("/tls", h.requestTLS)
		r.Put("/tls", h.uploadTLS)
		r.Get("/config", h.getRawConfig)
		r.Put("/config", h.editRawConfig)
		r.Post("/config/test", h.testRawConfig)
	})
}

func (h *Handler) listSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.svc.ListSites(r.Context())
	if err != nil {
		http.Error(w, "failed to list sites", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (h *Handler) createSite(w http.ResponseWriter, r *http.Request) {
	var req CreateSiteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out, err := h.svc.CreateSite(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcomeBody(out))
}

func (h *Handler) getSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.svc.GetSite(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site": site})
}

func (h *Handler) deleteSite(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.DeleteSite(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody(out))
}

func (h *Handler) changePHPVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PHPVersion string            `json:"php_version"`
		Settings   map[string]string `json:"settings"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out, err := h.svc.ChangePHPVersion(r.Context(), chi.URLParam(r, "domain"), req.PHPVersion, req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody(out))
}

func (h *Handler) requestTLS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IncludeAlias bool `json:"include_alias"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out, err := h.svc.RequestTLS(r.Context(), chi.URLParam(r, "domain"), req.IncludeAlias)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody(out))
}

func (h *Handler) uploadTLS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Certificate string `json:"certificate"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Certificate == "" || req.PrivateKey == "" {
		http.Error(w, "certificate and private_key are required", http.StatusBadRequest)
		return
	}
	out, err := h.svc.UploadTLS(r.Context(), chi.URLParam(r, "domain"), []byte(req.Certificate), []byte(req.PrivateKey))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeBody(out))
}

func (h *Handler) getRawConfig(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.GetRawConfig(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": text})
}

func (h *Handler) editRawConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config string `json:"config"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	out, err := h.svc.EditRawConfig(r.Context(), chi.URLParam(r, "domain"), req.Config)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "configuration validation failed",
				"output": verr.Output,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"output": out})
}

func (h *Handler) testRawConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config string `json:"config"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	report, err := h.svc.TestRawConfig(r.Context(), chi.URLParam(r, "domain"), req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"passed": report.Passed,
		"output": report.Output,
	})
}

func outcomeBody(out Outcome) map[string]any {
	return map[string]any{
		"site":     out.Site,
		"warnings": out.Warnings,
	}
}

func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.Is(err, ErrSiteNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrSiteExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrRestoreFailed):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "configuration validation failed",
			"output": verr.Output,
		})
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
