// Package api implements the HTTP surface of the dispatch service.
package api

import (
	"net/http"
	"strings"

	"dispo/internal/auth"
)

type Principal struct {
	Subject string
	Role    string // admin, dispatcher, viewer
}

// getPrincipal extracts the caller identity.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Subject: pr.Subject, Role: pr.Role}
		}
	}
	role := r.Header.Get("X-Role")
	if role == "" {
		role = auth.RoleAdmin
	}
	return Principal{Subject: r.Header.Get("X-Subject"), Role: strings.ToLower(role)}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// CanDispatch reports whether the principal may mutate fleet, orders and
// plans.
func (p Principal) CanDispatch() bool { return p.Role == auth.RoleAdmin || p.Role == auth.RoleDispatcher }
