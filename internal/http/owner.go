package httpserver

import (
	"net/http"

	"github.com/Clark-Hu/store-ratings/internal/auth"
)

// Owner handlers take the owner id from the verified principal only.

func (s *Server) handleOwnStore(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	st, err := s.directory.OwnStore(r.Context(), principal)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleOwnStoreRatings(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	res, err := s.directory.OwnStoreRatings(r.Context(), principal)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}
