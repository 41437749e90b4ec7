package api

import (
	"net/http"
	"time"

	"dispo/internal/buildinfo"
)

// DebugJSON dumps build and effective config facts for support. Admin
// only; secrets are reported as presence flags.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin role required", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":           s.Cfg.Port,
			"authMode":       s.Cfg.Auth.Mode,
			"logLevel":       s.Cfg.LogLevel,
			"solver":         s.Cfg.Solver,
			"webhooks":       s.Cfg.Webhooks,
			"hasDatabaseUrl": s.Cfg.DatabaseURL != "",
			"hasRedisUrl":    s.Cfg.RedisURL != "",
		},
	})
}
