package httpserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalapanel/lalapanel/internal/platform/systemd"
)

// handleStatus reports service health and basic inventory counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nginxActive, err := systemd.IsActive(ctx, s.runner, s.cfg.Hosting.NginxService)
	if err != nil {
		s.log.Warn("nginx status check failed", zap.Error(err))
		nginxActive = false
	}
	mariadbActive, err := systemd.IsActive(ctx, s.runner, s.cfg.MariaDB.Service)
	if err != nil {
		mariadbActive = false
	}

	services := map[string]bool{
		"nginx":   nginxActive,
		"mariadb": mariadbActive,
	}
	for _, ver := range s.cfg.Hosting.PHPVersions {
		unit := "php" + ver + "-fpm"
		active, err := systemd.IsActive(ctx, s.runner, unit)
		if err != nil {
			active = false
		}
		services[unit] = active
	}

	sites, err := s.reg.ListSites(ctx)
	if err != nil {
		http.Error(w, "failed to read registry", http.StatusInternalServerError)
		return
	}
	databases, err := s.reg.ListAllDatabases(ctx)
	if err != nil {
		http.Error(w, "failed to read registry", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"services":  services,
		"sites":     len(sites),
		"databases": len(databases),
		"registry":  s.reg.Path(),
	})
}

// handleRestartService restarts one of the panel-managed units.
func (s *Server) handleRestartService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.managedService(name) {
		http.Error(w, "unknown service", http.StatusNotFound)
		return
	}
	if err := systemd.Restart(r.Context(), s.runner, name); err != nil {
		s.log.Error("service restart failed", zap.String("service", name), zap.Error(err))
		http.Error(w, "restart failed", http.StatusInternalServerError)
		return
	}
	s.log.Info("service restarted", zap.String("service", name))
	writeJSON(w, http.StatusOK, map[string]any{"restarted": name})
}

// managedService limits restarts to the units the panel itself depends on.
func (s *Server) managedService(name string) bool {
	if name == s.cfg.Hosting.NginxService || name == s.cfg.MariaDB.Service {
		return true
	}
	for _, ver := range s.cfg.Hosting.PHPVersions {
		if name == "php"+ver+"-fpm" {
			return true
		}
	}
	return false
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.reg.AllSettings(r.Context())
	if err != nil {
		http.Error(w, "failed to read settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	for key, value := range req {
		if err := s.reg.SetSetting(r.Context(), key, value); err != nil {
			http.Error(w, "failed to store setting", http.StatusInternalServerError)
			return
		}
	}
	settings, err := s.reg.AllSettings(r.Context())
	if err != nil {
		http.Error(w, "failed to read settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}
