package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/store-ratings/internal/domain"
)

// RatingsRepository is the rating ledger. Every write also maintains the
// store's average_rating and rating_count columns.
type RatingsRepository struct {
	pool *pgxpool.Pool
	tx   txRunner
}

// RateParams captures the payload required to upsert a rating.
type RateParams struct {
	UserID  string
	StoreID string
	Value   int
}

// RateResult reports the stored rating and the store aggregate after the write.
type RateResult struct {
	Rating        domain.Rating
	Inserted      bool
	AverageRating *float64
	RatingCount   int64
}

const (
	lockStoreQuery = `SELECT id FROM stores WHERE id = $1 FOR UPDATE`

	upsertRatingQuery = `
        INSERT INTO ratings (id, user_id, store_id, value)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (user_id, store_id)
        DO UPDATE SET value = EXCLUDED.value, updated_at = now()
        RETURNING id::text, user_id::text, store_id::text, value, created_at, updated_at, (xmax = 0) AS inserted
    `

	recomputeAverageQuery = `
        UPDATE stores s
        SET average_rating = agg.average,
            rating_count = agg.count,
            updated_at = now()
        FROM (
            SELECT SUM(value)::float8 / NULLIF(COUNT(*), 0) AS average,
                   COUNT(*)::int8 AS count
            FROM ratings
            WHERE store_id = $1
        ) AS agg
        WHERE s.id = $1
        RETURNING s.average_rating, s.rating_count
    `
)

// Rate upserts the (user, store) rating and recomputes the store average in a
// single transaction. The store row is locked first, so concurrent writers on
// the same store are serialized and each recompute sees every committed rating.
func (r *RatingsRepository) Rate(ctx context.Context, params RateParams) (RateResult, error) {
	var result RateResult
	err := r.tx.run(ctx, func(tx pgx.Tx) error {
		var lockedID string
		if err := tx.QueryRow(ctx, lockStoreQuery, params.StoreID).Scan(&lockedID); err != nil {
			return mapReadError(err)
		}

		var value int16
		err := tx.QueryRow(ctx, upsertRatingQuery, uuid.NewString(), params.UserID, params.StoreID, params.Value).Scan(
			&result.Rating.ID,
			&result.Rating.UserID,
			&result.Rating.StoreID,
			&value,
			&result.Rating.CreatedAt,
			&result.Rating.UpdatedAt,
			&result.Inserted,
		)
		if err != nil {
			return fmt.Errorf("upsert rating: %w", mapWriteError(err))
		}
		result.Rating.Value = int(value)

		if err := tx.QueryRow(ctx, recomputeAverageQuery, params.StoreID).Scan(&result.AverageRating, &result.RatingCount); err != nil {
			return fmt.Errorf("recompute average: %w", err)
		}
		return nil
	})
	if err != nil {
		return RateResult{}, err
	}
	return result, nil
}

// Aggregate computes the rating average and count for a store from the ledger.
func (r *RatingsRepository) Aggregate(ctx context.Context, storeID string) (domain.RatingAggregate, error) {
	const query = `
        SELECT SUM(value)::float8 / NULLIF(COUNT(*), 0) AS average,
               COUNT(*)::int8 AS count
        FROM ratings
        WHERE store_id = $1
    `

	var agg domain.RatingAggregate
	if err := r.pool.QueryRow(ctx, query, storeID).Scan(&agg.Average, &agg.Count); err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("aggregate ratings: %w", mapReadError(err))
	}
	return agg, nil
}

// Get retrieves the rating for a specific user/store combination.
func (r *RatingsRepository) Get(ctx context.Context, storeID, userID string) (domain.Rating, error) {
	const query = `
        SELECT id::text, user_id::text, store_id::text, value, created_at, updated_at
        FROM ratings
        WHERE store_id = $1 AND user_id = $2
    `
	var (
		rating domain.Rating
		value  int16
	)
	err := r.pool.QueryRow(ctx, query, storeID, userID).Scan(
		&rating.ID,
		&rating.UserID,
		&rating.StoreID,
		&value,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		return domain.Rating{}, mapReadError(err)
	}
	rating.Value = int(value)
	return rating, nil
}

// CountForPair returns how many rows exist for a user/store pair. It is
// always 0 or 1 given the unique constraint.
func (r *RatingsRepository) CountForPair(ctx context.Context, storeID, userID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ratings WHERE store_id = $1 AND user_id = $2`, storeID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count ratings: %w", err)
	}
	return count, nil
}

// Count returns the total number of ratings.
func (r *RatingsRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ratings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count ratings: %w", err)
	}
	return count, nil
}

// ListForStore returns a store's ratings joined with the rater's name and email.
func (r *RatingsRepository) ListForStore(ctx context.Context, storeID string) ([]domain.RatingWithRater, error) {
	const query = `
        SELECT r.id::text, r.user_id::text, r.store_id::text, r.value, r.created_at, r.updated_at,
               u.name, u.email
        FROM ratings r
        JOIN users u ON u.id = r.user_id
        WHERE r.store_id = $1
        ORDER BY r.updated_at DESC, r.id
    `
	rows, err := r.pool.Query(ctx, query, storeID)
	if err != nil {
		return nil, mapReadError(err)
	}
	defer rows.Close()

	ratings := make([]domain.RatingWithRater, 0)
	for rows.Next() {
		var (
			item  domain.RatingWithRater
			value int16
		)
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.StoreID,
			&value,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.User.Name,
			&item.User.Email,
		)
		if err != nil {
			return nil, err
		}
		item.Value = int(value)
		ratings = append(ratings, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ratings, nil
}
