package domain

import "time"

const (
	MinRatingValue = 1
	MaxRatingValue = 5
)

// Rating represents a single user's rating for a store.
type Rating struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	StoreID   string    `json:"storeId"`
	Value     int       `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Rater identifies who submitted a rating.
type Rater struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RatingWithRater is a rating joined with the rater's identity.
type RatingWithRater struct {
	Rating
	User Rater `json:"user"`
}

// RatingAggregate provides average and count for a store's ratings.
type RatingAggregate struct {
	Average *float64
	Count   int64
}

// ValidRatingValue reports whether v is inside the allowed range.
func ValidRatingValue(v int) bool {
	return v >= MinRatingValue && v <= MaxRatingValue
}
