package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/store-ratings/internal/domain"
)

// StoresRepository provides persistence helpers for store entities.
type StoresRepository struct {
	pool *pgxpool.Pool
}

const storeColumns = `
    s.id::text,
    s.name,
    s.email,
    s.address,
    s.owner_id::text,
    s.average_rating,
    s.rating_count,
    s.created_at,
    s.updated_at
`

var storeSortColumns = map[string]string{
	"name":          "s.name",
	"email":         "s.email",
	"address":       "s.address",
	"createdAt":     "s.created_at",
	"averageRating": "s.average_rating",
}

// StoreCreateParams bundles the fields required to create a store.
type StoreCreateParams struct {
	Name    string
	Email   string
	Address string
	OwnerID string
}

// StoreListFilters encapsulates search and ordering options.
type StoreListFilters struct {
	Query  *string
	SortBy string
	Order  SortOrder
}

// Create inserts a new store row and returns the stored entity.
func (r *StoresRepository) Create(ctx context.Context, params StoreCreateParams) (domain.Store, error) {
	return insertStore(ctx, r.pool, params)
}

func insertStore(ctx context.Context, q querier, params StoreCreateParams) (domain.Store, error) {
	query := fmt.Sprintf(`
        INSERT INTO stores AS s (id, name, email, address, owner_id)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING %s
    `, storeColumns)

	row := q.QueryRow(ctx, query, uuid.NewString(), params.Name, domain.NormalizeEmail(params.Email), params.Address, params.OwnerID)
	st, err := scanStore(row)
	if err != nil {
		return domain.Store{}, mapWriteError(err)
	}
	return st, nil
}

// GetByID fetches a store by its identifier.
func (r *StoresRepository) GetByID(ctx context.Context, id string) (domain.Store, error) {
	query := fmt.Sprintf(`SELECT %s FROM stores s WHERE s.id = $1`, storeColumns)
	st, err := scanStore(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return domain.Store{}, mapReadError(err)
	}
	return st, nil
}

// GetByOwner fetches the store owned by ownerID. The owner id is the only
// predicate, so one owner can never resolve another owner's store.
func (r *StoresRepository) GetByOwner(ctx context.Context, ownerID string) (domain.Store, error) {
	query := fmt.Sprintf(`SELECT %s FROM stores s WHERE s.owner_id = $1`, storeColumns)
	st, err := scanStore(r.pool.QueryRow(ctx, query, ownerID))
	if err != nil {
		return domain.Store{}, mapReadError(err)
	}
	return st, nil
}

// Count returns the total number of stores.
func (r *StoresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stores`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stores: %w", err)
	}
	return count, nil
}

// List returns stores for administrative listings.
func (r *StoresRepository) List(ctx context.Context, filters StoreListFilters) ([]domain.Store, error) {
	args := make([]interface{}, 0)
	var where string
	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		args = append(args, likePattern(*filters.Query))
		where = ` WHERE (s.name ILIKE $1 ESCAPE '\' OR s.email ILIKE $1 ESCAPE '\' OR s.address ILIKE $1 ESCAPE '\')`
	}

	query := "SELECT " + storeColumns + " FROM stores s" + where + orderClause(storeSortColumns, filters.SortBy, filters.Order, "s.id")
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stores := make([]domain.Store, 0)
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, err
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stores, nil
}

// ListForUser returns stores annotated with userID's own rating, if any.
func (r *StoresRepository) ListForUser(ctx context.Context, userID string, filters StoreListFilters) ([]domain.StoreView, error) {
	args := []interface{}{userID}
	var where string
	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		args = append(args, likePattern(*filters.Query))
		where = ` WHERE (s.name ILIKE $2 ESCAPE '\' OR s.address ILIKE $2 ESCAPE '\')`
	}

	query := "SELECT " + storeColumns + `, r.value
        FROM stores s
        LEFT JOIN ratings r ON r.store_id = s.id AND r.user_id = $1` +
		where + orderClause(storeSortColumns, filters.SortBy, filters.Order, "s.id")

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapReadError(err)
	}
	defer rows.Close()

	views := make([]domain.StoreView, 0)
	for rows.Next() {
		var (
			view      domain.StoreView
			userValue *int16
		)
		err := rows.Scan(
			&view.ID,
			&view.Name,
			&view.Email,
			&view.Address,
			&view.OwnerID,
			&view.AverageRating,
			&view.RatingCount,
			&view.CreatedAt,
			&view.UpdatedAt,
			&userValue,
		)
		if err != nil {
			return nil, err
		}
		if userValue != nil {
			v := int(*userValue)
			view.UserRating = &v
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return views, nil
}

func scanStore(row pgx.Row) (domain.Store, error) {
	var st domain.Store
	err := row.Scan(
		&st.ID,
		&st.Name,
		&st.Email,
		&st.Address,
		&st.OwnerID,
		&st.AverageRating,
		&st.RatingCount,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return domain.Store{}, err
	}
	return st, nil
}
