package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// requireAPIKey rejects any request whose X-API-Key header does not match
// the configured key exactly.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if s.config.APIKey == "" ||
			subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
			writeError(w, http.StatusForbidden, "Forbidden", "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireMatchingUser enforces that an x-user-id header, when present,
// matches the {userId} path segment.
func (s *Server) requireMatchingUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("x-user-id")
		if header != "" && header != chi.URLParam(r, "userId") {
			writeError(w, http.StatusForbidden, "Forbidden", "x-user-id does not match the requested user")
			return
		}
		next.ServeHTTP(w, r)
	})
}
