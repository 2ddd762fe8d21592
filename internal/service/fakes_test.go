package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/repository"
)

// memRepo is an in-memory stand-in for the Postgres repositories.
type memRepo struct {
	mu      sync.Mutex
	users   map[string]domain.User
	stores  map[string]domain.Store
	ratings map[string]domain.Rating // key: userID|storeID
	failErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:   make(map[string]domain.User),
		stores:  make(map[string]domain.Store),
		ratings: make(map[string]domain.Rating),
	}
}

type memUsers struct{ *memRepo }
type memStores struct{ *memRepo }
type memRatings struct{ *memRepo }

func (m *memRepo) insertUserLocked(params repository.UserCreateParams) (domain.User, error) {
	email := domain.NormalizeEmail(params.Email)
	for _, u := range m.users {
		if u.Email == email {
			return domain.User{}, repository.ErrDuplicateEmail
		}
	}
	now := time.Now().UTC()
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         params.Name,
		Email:        email,
		PasswordHash: params.PasswordHash,
		Address:      params.Address,
		Role:         params.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memRepo) insertStoreLocked(params repository.StoreCreateParams) (domain.Store, error) {
	if _, ok := m.users[params.OwnerID]; !ok {
		return domain.Store{}, repository.ErrNotFound
	}
	for _, st := range m.stores {
		if st.OwnerID == params.OwnerID {
			return domain.Store{}, repository.ErrOwnerHasStore
		}
	}
	now := time.Now().UTC()
	st := domain.Store{
		ID:        uuid.NewString(),
		Name:      params.Name,
		Email:     domain.NormalizeEmail(params.Email),
		Address:   params.Address,
		OwnerID:   params.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.stores[st.ID] = st
	return st, nil
}

func (m *memRepo) CreateOwnerWithStore(_ context.Context, user repository.UserCreateParams, st repository.StoreCreateParams) (repository.OwnerWithStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return repository.OwnerWithStore{}, m.failErr
	}
	u, err := m.insertUserLocked(user)
	if err != nil {
		return repository.OwnerWithStore{}, err
	}
	st.OwnerID = u.ID
	created, err := m.insertStoreLocked(st)
	if err != nil {
		delete(m.users, u.ID)
		return repository.OwnerWithStore{}, err
	}
	return repository.OwnerWithStore{User: u, Store: created}, nil
}

func (u memUsers) Create(_ context.Context, params repository.UserCreateParams) (domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.insertUserLocked(params)
}

func (u memUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failErr != nil {
		return domain.User{}, u.failErr
	}
	for _, user := range u.users {
		if user.Email == domain.NormalizeEmail(email) {
			return user, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (u memUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return user, nil
}

func (u memUsers) ExistsWithRole(ctx context.Context, role domain.Role) (bool, error) {
	n, err := u.CountByRole(ctx, role)
	return n > 0, err
}

func (u memUsers) CountByRole(_ context.Context, role domain.Role) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	var n int64
	for _, user := range u.users {
		if user.Role == role {
			n++
		}
	}
	return n, nil
}

func (u memUsers) List(_ context.Context, filters repository.UserListFilters) ([]domain.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]domain.User, 0)
	for _, user := range u.users {
		if filters.Role != nil && user.Role != *filters.Role {
			continue
		}
		if filters.Query != nil && !containsFold(*filters.Query, user.Name, user.Email, user.Address) {
			continue
		}
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memStores) Create(_ context.Context, params repository.StoreCreateParams) (domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertStoreLocked(params)
}

func (s memStores) GetByID(_ context.Context, id string) (domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stores[id]
	if !ok {
		return domain.Store{}, repository.ErrNotFound
	}
	return st, nil
}

func (s memStores) GetByOwner(_ context.Context, ownerID string) (domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.stores {
		if st.OwnerID == ownerID {
			return st, nil
		}
	}
	return domain.Store{}, repository.ErrNotFound
}

func (s memStores) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.stores)), nil
}

func (s memStores) List(_ context.Context, filters repository.StoreListFilters) ([]domain.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Store, 0)
	for _, st := range s.stores {
		if filters.Query != nil && !containsFold(*filters.Query, st.Name, st.Email, st.Address) {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memStores) ListForUser(_ context.Context, userID string, filters repository.StoreListFilters) ([]domain.StoreView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	out := make([]domain.StoreView, 0)
	for _, st := range s.stores {
		if filters.Query != nil && !containsFold(*filters.Query, st.Name, st.Address) {
			continue
		}
		view := domain.StoreView{Store: st}
		if r, ok := s.ratings[userID+"|"+st.ID]; ok {
			v := r.Value
			view.UserRating = &v
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memRatings) Rate(_ context.Context, params repository.RateParams) (repository.RateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return repository.RateResult{}, r.failErr
	}
	st, ok := r.stores[params.StoreID]
	if !ok {
		return repository.RateResult{}, repository.ErrNotFound
	}

	key := params.UserID + "|" + params.StoreID
	existing, found := r.ratings[key]
	now := time.Now().UTC()
	if !found {
		existing = domain.Rating{ID: uuid.NewString(), UserID: params.UserID, StoreID: params.StoreID, CreatedAt: now}
	}
	existing.Value = params.Value
	existing.UpdatedAt = now
	r.ratings[key] = existing

	var sum, count int64
	for _, rating := range r.ratings {
		if rating.StoreID == params.StoreID {
			sum += int64(rating.Value)
			count++
		}
	}
	avg := float64(sum) / float64(count)
	st.AverageRating = &avg
	st.RatingCount = count
	r.stores[st.ID] = st

	return repository.RateResult{Rating: existing, Inserted: !found, AverageRating: &avg, RatingCount: count}, nil
}

func (r memRatings) ListForStore(_ context.Context, storeID string) ([]domain.RatingWithRater, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RatingWithRater, 0)
	for _, rating := range r.ratings {
		if rating.StoreID != storeID {
			continue
		}
		u := r.users[rating.UserID]
		out = append(out, domain.RatingWithRater{Rating: rating, User: domain.Rater{Name: u.Name, Email: u.Email}})
	}
	return out, nil
}

func (r memRatings) Count(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.ratings)), nil
}

func containsFold(term string, fields ...string) bool {
	term = strings.ToLower(term)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	return false
}

func (m *memRepo) mustOwnerWithStore(name string) repository.OwnerWithStore {
	out, err := m.CreateOwnerWithStore(context.Background(),
		repository.UserCreateParams{Name: "Owner " + name, Email: fmt.Sprintf("%s@owner.test", strings.ToLower(name)), PasswordHash: "x", Address: "a", Role: domain.RoleOwner},
		repository.StoreCreateParams{Name: name, Email: fmt.Sprintf("shop@%s.test", strings.ToLower(name)), Address: "High Street"},
	)
	if err != nil {
		panic(err)
	}
	return out
}
