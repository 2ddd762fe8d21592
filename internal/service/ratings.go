package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/store-ratings/internal/auth"
	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/metrics"
	"github.com/Clark-Hu/store-ratings/internal/repository"
)

// RateInput is the rating request body.
type RateInput struct {
	Value *int `json:"value" validate:"required,min=1,max=5"`
}

// RateOutcome is the stored rating plus the store aggregate after the write.
type RateOutcome struct {
	Rating        domain.Rating `json:"rating"`
	AverageRating *float64      `json:"averageRating"`
	RatingCount   int64         `json:"ratingCount"`
	Inserted      bool          `json:"-"`
}

// RatingService records one rating per (user, store).
type RatingService struct {
	ratings RatingLedger
	logger  logrus.FieldLogger
}

// NewRatingService wires the rating use case.
func NewRatingService(ratings RatingLedger, logger logrus.FieldLogger) *RatingService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RatingService{ratings: ratings, logger: logger.WithField("component", "rating_service")}
}

// RateStore inserts or replaces the caller's rating of storeID and returns
// the recomputed average. Input is checked before storage is touched.
func (s *RatingService) RateStore(ctx context.Context, principal auth.Principal, storeID string, value int) (RateOutcome, error) {
	if !domain.ValidRatingValue(value) {
		return RateOutcome{}, domain.NewValidationError("value", "must be between 1 and 5")
	}
	if _, err := uuid.Parse(storeID); err != nil {
		return RateOutcome{}, domain.ErrNotFound
	}

	start := time.Now()
	res, err := s.ratings.Rate(ctx, repository.RateParams{
		UserID:  principal.UserID,
		StoreID: storeID,
		Value:   value,
	})
	if err != nil {
		metrics.RecordRatingWrite("error", time.Since(start))
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":  principal.UserID,
			"store_id": storeID,
		}).Warn("rating write failed")
		return RateOutcome{}, storageError("rate store", err)
	}

	outcome := "updated"
	if res.Inserted {
		outcome = "inserted"
	}
	metrics.RecordRatingWrite(outcome, time.Since(start))

	return RateOutcome{
		Rating:        res.Rating,
		AverageRating: res.AverageRating,
		RatingCount:   res.RatingCount,
		Inserted:      res.Inserted,
	}, nil
}
