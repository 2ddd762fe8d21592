package auth

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/metrics"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 16
	// PasswordSymbols are the characters that satisfy the symbol rule.
	PasswordSymbols = "!@#$%^&*"
)

// Hasher runs bcrypt on a bounded number of concurrent workers.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher builds a Hasher. workers <= 0 defaults to runtime.NumCPU.
func NewHasher(cost, workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(workers))}
}

func (h *Hasher) acquire(ctx context.Context) error {
	start := time.Now()
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("hash pool: %w", err)
	}
	metrics.ObserveHashWait(time.Since(start))
	return nil
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Compare reports whether password matches hash. A mismatch is (false, nil);
// errors are reserved for pool cancellation and malformed hashes.
func (h *Hasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("compare password: %w", err)
	}
}

// CheckPasswordPolicy enforces 8..16 characters with at least one upper-case
// ASCII letter and one of PasswordSymbols.
func CheckPasswordPolicy(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return domain.NewValidationError("password", fmt.Sprintf("must be %d-%d characters", MinPasswordLength, MaxPasswordLength))
	}
	var upper, symbol bool
	for _, r := range password {
		if r >= 'A' && r <= 'Z' {
			upper = true
		}
		if strings.ContainsRune(PasswordSymbols, r) {
			symbol = true
		}
	}
	if !upper {
		return domain.NewValidationError("password", "must contain an uppercase letter")
	}
	if !symbol {
		return domain.NewValidationError("password", "must contain one of "+PasswordSymbols)
	}
	return nil
}
