package domain

import "time"

// Store is a rateable shop owned by exactly one OWNER account.
type Store struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	OwnerID string `json:"ownerId"`
	// AverageRating is nil while the store has no ratings.
	AverageRating *float64  `json:"averageRating"`
	RatingCount   int64     `json:"ratingCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StoreView is a store as seen by a rating user, including their own rating.
type StoreView struct {
	Store
	UserRating *int `json:"userRating"`
}

// DashboardStats are the admin dashboard counters.
type DashboardStats struct {
	TotalUsers   int64 `json:"totalUsers"`
	TotalStores  int64 `json:"totalStores"`
	TotalRatings int64 `json:"totalRatings"`
}
