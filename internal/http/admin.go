package httpserver

import (
	"net/http"

	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/service"
)

type adminStoreListResponse struct {
	Items []domain.Store `json:"items"`
}

type adminUserListResponse struct {
	Items []domain.User `json:"items"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.directory.Dashboard(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := s.directory.ListUsersForAdmin(r.Context(), service.UserQuery{
		Search: q.Get("search"),
		Role:   q.Get("role"),
		SortBy: q.Get("sortBy"),
		Order:  q.Get("order"),
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, adminUserListResponse{Items: users})
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.SignupInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	user, err := s.auth.CreateUser(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleAdminListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.directory.ListStoresForAdmin(r.Context(), storeQuery(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, adminStoreListResponse{Items: stores})
}

func (s *Server) handleAdminCreateStore(w http.ResponseWriter, r *http.Request) {
	var req service.CreateStoreInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	st, err := s.directory.CreateStore(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, st)
}
