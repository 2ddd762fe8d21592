package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/service"
)

type storeListResponse struct {
	Items []domain.StoreView `json:"items"`
}

func storeQuery(r *http.Request) service.StoreQuery {
	q := r.URL.Query()
	return service.StoreQuery{
		Search: q.Get("search"),
		SortBy: q.Get("sortBy"),
		Order:  q.Get("order"),
	}
}

func (s *Server) handleListStores(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())

	views, err := s.directory.ListStoresForUser(r.Context(), principal, storeQuery(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, storeListResponse{Items: views})
}

func (s *Server) handleRateStore(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFrom(r.Context())
	storeID := chi.URLParam(r, "storeId")

	var req service.RateInput
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	out, err := s.ratings.RateStore(r.Context(), principal, storeID, *req.Value)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if out.Inserted {
		status = http.StatusCreated
	}
	s.respondJSON(w, status, out)
}
