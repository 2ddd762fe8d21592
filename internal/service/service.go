// Package service holds the application use cases: credential issuance,
// rating writes and the read projections served to each role.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/repository"
)

// UserStore is the credential store.
type UserStore interface {
	Create(ctx context.Context, params repository.UserCreateParams) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id string) (domain.User, error)
	ExistsWithRole(ctx context.Context, role domain.Role) (bool, error)
	CountByRole(ctx context.Context, role domain.Role) (int64, error)
	List(ctx context.Context, filters repository.UserListFilters) ([]domain.User, error)
}

// OwnerRegistrar creates an owner account and its store in one unit.
type OwnerRegistrar interface {
	CreateOwnerWithStore(ctx context.Context, user repository.UserCreateParams, st repository.StoreCreateParams) (repository.OwnerWithStore, error)
}

// StoreRegistry reads and creates stores.
type StoreRegistry interface {
	Create(ctx context.Context, params repository.StoreCreateParams) (domain.Store, error)
	GetByOwner(ctx context.Context, ownerID string) (domain.Store, error)
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, filters repository.StoreListFilters) ([]domain.Store, error)
	ListForUser(ctx context.Context, userID string, filters repository.StoreListFilters) ([]domain.StoreView, error)
}

// RatingLedger records ratings and maintains store aggregates.
type RatingLedger interface {
	Rate(ctx context.Context, params repository.RateParams) (repository.RateResult, error)
	ListForStore(ctx context.Context, storeID string) ([]domain.RatingWithRater, error)
	Count(ctx context.Context) (int64, error)
}

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Compare(ctx context.Context, hash, password string) (bool, error)
}

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	Issue(userID string, role domain.Role) (auth.Token, error)
}

// StructValidator validates tagged request structs.
type StructValidator interface {
	Struct(s interface{}) error
}

var (
	_ UserStore      = (*repository.UsersRepository)(nil)
	_ OwnerRegistrar = (*repository.Repository)(nil)
	_ StoreRegistry  = (*repository.StoresRepository)(nil)
	_ RatingLedger   = (*repository.RatingsRepository)(nil)
	_ PasswordHasher = (*auth.Hasher)(nil)
	_ TokenSigner    = (*auth.TokenIssuer)(nil)
)

// storageError maps repository failures onto the domain taxonomy. Errors that
// are already domain errors pass through untouched.
func storageError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicateEmail)
	case repository.IsTransient(err):
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStorage, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
