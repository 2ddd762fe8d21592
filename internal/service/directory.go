package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/repository"
)

// StoreQuery filters and orders store listings.
type StoreQuery struct {
	Search string
	SortBy string
	Order  string
}

// UserQuery filters and orders user listings.
type UserQuery struct {
	Search string
	Role   string
	SortBy string
	Order  string
}

// CreateStoreInput is the admin store creation payload.
type CreateStoreInput struct {
	Name    string `json:"name" validate:"notblank,max=60"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Address string `json:"address" validate:"notblank,max=400"`
	OwnerID string `json:"ownerId" validate:"required,uuid"`
}

// OwnerStoreRatings is an owner's store with every rating it received.
type OwnerStoreRatings struct {
	Store   domain.Store             `json:"store"`
	Ratings []domain.RatingWithRater `json:"ratings"`
}

// DirectoryService serves the read projections for each role.
type DirectoryService struct {
	users     UserStore
	stores    StoreRegistry
	ratings   RatingLedger
	validator StructValidator
	logger    logrus.FieldLogger
}

// NewDirectoryService wires the listing and dashboard use cases.
func NewDirectoryService(users UserStore, stores StoreRegistry, ratings RatingLedger, v StructValidator, logger logrus.FieldLogger) *DirectoryService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DirectoryService{
		users:     users,
		stores:    stores,
		ratings:   ratings,
		validator: v,
		logger:    logger.WithField("component", "directory_service"),
	}
}

func storeFilters(q StoreQuery) repository.StoreListFilters {
	filters := repository.StoreListFilters{
		SortBy: strings.TrimSpace(q.SortBy),
		Order:  repository.ParseSortOrder(q.Order),
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		filters.Query = &term
	}
	return filters
}

// ListStoresForUser lists stores with the caller's own rating attached.
func (s *DirectoryService) ListStoresForUser(ctx context.Context, principal auth.Principal, q StoreQuery) ([]domain.StoreView, error) {
	views, err := s.stores.ListForUser(ctx, principal.UserID, storeFilters(q))
	if err != nil {
		return nil, storageError("list stores", err)
	}
	return views, nil
}

// ListStoresForAdmin lists every store.
func (s *DirectoryService) ListStoresForAdmin(ctx context.Context, q StoreQuery) ([]domain.Store, error) {
	stores, err := s.stores.List(ctx, storeFilters(q))
	if err != nil {
		return nil, storageError("list stores", err)
	}
	return stores, nil
}

// ListUsersForAdmin lists accounts, optionally restricted to one role.
func (s *DirectoryService) ListUsersForAdmin(ctx context.Context, q UserQuery) ([]domain.User, error) {
	filters := repository.UserListFilters{
		SortBy: strings.TrimSpace(q.SortBy),
		Order:  repository.ParseSortOrder(q.Order),
	}
	if term := strings.TrimSpace(q.Search); term != "" {
		filters.Query = &term
	}
	if raw := strings.TrimSpace(q.Role); raw != "" {
		role, err := domain.ParseRole(strings.ToUpper(raw))
		if err != nil {
			return nil, domain.NewValidationError("role", "must be one of ADMIN, OWNER, USER")
		}
		filters.Role = &role
	}

	users, err := s.users.List(ctx, filters)
	if err != nil {
		return nil, storageError("list users", err)
	}
	return users, nil
}

// Dashboard returns the admin counters. TotalUsers counts USER accounts only.
func (s *DirectoryService) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	var (
		stats domain.DashboardStats
		err   error
	)
	if stats.TotalUsers, err = s.users.CountByRole(ctx, domain.RoleUser); err != nil {
		return domain.DashboardStats{}, storageError("dashboard", err)
	}
	if stats.TotalStores, err = s.stores.Count(ctx); err != nil {
		return domain.DashboardStats{}, storageError("dashboard", err)
	}
	if stats.TotalRatings, err = s.ratings.Count(ctx); err != nil {
		return domain.DashboardStats{}, storageError("dashboard", err)
	}
	return stats, nil
}

// OwnStore resolves the store owned by the caller.
func (s *DirectoryService) OwnStore(ctx context.Context, principal auth.Principal) (domain.Store, error) {
	if principal.Role != domain.RoleOwner {
		return domain.Store{}, domain.ErrForbiddenRole
	}
	st, err := s.stores.GetByOwner(ctx, principal.UserID)
	if err != nil {
		return domain.Store{}, storageError("own store", err)
	}
	return st, nil
}

// OwnStoreRatings resolves the caller's store and every rating it received,
// each joined with the rater's name and email.
func (s *DirectoryService) OwnStoreRatings(ctx context.Context, principal auth.Principal) (OwnerStoreRatings, error) {
	st, err := s.OwnStore(ctx, principal)
	if err != nil {
		return OwnerStoreRatings{}, err
	}
	ratings, err := s.ratings.ListForStore(ctx, st.ID)
	if err != nil {
		return OwnerStoreRatings{}, storageError("own store ratings", err)
	}
	return OwnerStoreRatings{Store: st, Ratings: ratings}, nil
}

// CreateStore registers a store for an existing OWNER without one.
func (s *DirectoryService) CreateStore(ctx context.Context, in CreateStoreInput) (domain.Store, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = domain.NormalizeEmail(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	if err := s.validator.Struct(in); err != nil {
		return domain.Store{}, err
	}

	owner, err := s.users.GetByID(ctx, in.OwnerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Store{}, domain.NewValidationError("ownerId", "owner not found")
		}
		return domain.Store{}, storageError("create store", err)
	}
	if owner.Role != domain.RoleOwner {
		return domain.Store{}, domain.NewValidationError("ownerId", "must reference an OWNER account")
	}

	st, err := s.stores.Create(ctx, repository.StoreCreateParams{
		Name:    in.Name,
		Email:   in.Email,
		Address: in.Address,
		OwnerID: owner.ID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrOwnerHasStore) {
			return domain.Store{}, domain.NewValidationError("ownerId", "owner already has a store")
		}
		return domain.Store{}, storageError("create store", err)
	}

	s.logger.WithFields(logrus.Fields{"store_id": st.ID, "owner_id": owner.ID}).Info("store created")
	return st, nil
}
