package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/store-ratings/internal/config"
	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/repository"
)

// dummyPassword is hashed once and compared against when a login names an
// unknown email, so both failure paths spend one bcrypt comparison.
const dummyPassword = "not-a-real-password"

// SignupInput is the public and admin account creation payload.
type SignupInput struct {
	Name     string      `json:"name" validate:"notblank,max=20"`
	Email    string      `json:"email" validate:"required,email,max=254"`
	Address  string      `json:"address" validate:"notblank,max=400"`
	Password string      `json:"password" validate:"required,password"`
	Role     domain.Role `json:"role" validate:"omitempty,role"`
}

// OwnerSignupInput creates an OWNER account together with its store.
type OwnerSignupInput struct {
	Name         string `json:"name" validate:"notblank,max=20"`
	Email        string `json:"email" validate:"required,email,max=254"`
	Address      string `json:"address" validate:"notblank,max=400"`
	Password     string `json:"password" validate:"required,password"`
	StoreName    string `json:"storeName" validate:"notblank,max=60"`
	StoreEmail   string `json:"storeEmail" validate:"required,email,max=254"`
	StoreAddress string `json:"storeAddress" validate:"notblank,max=400"`
}

// LoginInput carries login credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Role      domain.Role `json:"role"`
	UserID    string      `json:"userId"`
	User      domain.User `json:"user"`
}

// OwnerSignupResult is returned by a successful owner signup.
type OwnerSignupResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      domain.User  `json:"user"`
	Store     domain.Store `json:"store"`
}

// AuthService creates accounts and exchanges credentials for tokens.
type AuthService struct {
	users     UserStore
	owners    OwnerRegistrar
	hasher    PasswordHasher
	tokens    TokenSigner
	validator StructValidator
	logger    logrus.FieldLogger

	dummyMu   sync.Mutex
	dummyHash string
}

// NewAuthService wires the credential use cases.
func NewAuthService(users UserStore, owners OwnerRegistrar, hasher PasswordHasher, tokens TokenSigner, v StructValidator, logger logrus.FieldLogger) *AuthService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthService{
		users:     users,
		owners:    owners,
		hasher:    hasher,
		tokens:    tokens,
		validator: v,
		logger:    logger.WithField("component", "auth_service"),
	}
}

// Signup creates an account. The role defaults to USER when omitted.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (domain.User, error) {
	if in.Role == "" {
		in.Role = domain.RoleUser
	}
	return s.createUser(ctx, in)
}

// CreateUser is the admin variant of Signup; the role must be explicit.
func (s *AuthService) CreateUser(ctx context.Context, in SignupInput) (domain.User, error) {
	if in.Role == "" {
		in.Email = domain.NormalizeEmail(in.Email)
		ve := &domain.ValidationError{}
		if err := s.validator.Struct(in); err != nil {
			if !errors.As(err, &ve) {
				return domain.User{}, err
			}
		}
		ve.Add("role", "is required")
		return domain.User{}, ve
	}
	return s.createUser(ctx, in)
}

func (s *AuthService) createUser(ctx context.Context, in SignupInput) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = domain.NormalizeEmail(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	if err := s.validator.Struct(in); err != nil {
		return domain.User{}, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("signup: %w", err)
	}

	user, err := s.users.Create(ctx, repository.UserCreateParams{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Address:      in.Address,
		Role:         in.Role,
	})
	if err != nil {
		return domain.User{}, storageError("create user", err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("account created")
	return user, nil
}

// OwnerSignup creates an OWNER and its store atomically and logs the owner in.
func (s *AuthService) OwnerSignup(ctx context.Context, in OwnerSignupInput) (OwnerSignupResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = domain.NormalizeEmail(in.Email)
	in.Address = strings.TrimSpace(in.Address)
	in.StoreName = strings.TrimSpace(in.StoreName)
	in.StoreEmail = domain.NormalizeEmail(in.StoreEmail)
	in.StoreAddress = strings.TrimSpace(in.StoreAddress)
	if err := s.validator.Struct(in); err != nil {
		return OwnerSignupResult{}, err
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return OwnerSignupResult{}, fmt.Errorf("owner signup: %w", err)
	}

	created, err := s.owners.CreateOwnerWithStore(ctx,
		repository.UserCreateParams{
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: hash,
			Address:      in.Address,
			Role:         domain.RoleOwner,
		},
		repository.StoreCreateParams{
			Name:    in.StoreName,
			Email:   in.StoreEmail,
			Address: in.StoreAddress,
		},
	)
	if err != nil {
		return OwnerSignupResult{}, storageError("owner signup", err)
	}

	token, err := s.tokens.Issue(created.User.ID, created.User.Role)
	if err != nil {
		return OwnerSignupResult{}, fmt.Errorf("owner signup: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"user_id": created.User.ID, "store_id": created.Store.ID}).Info("owner registered")
	return OwnerSignupResult{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		User:      created.User,
		Store:     created.Store,
	}, nil
}

// Login verifies credentials and issues a token. Unknown emails and wrong
// passwords fail with the same domain.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return LoginResult{}, err
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return LoginResult{}, storageError("login", err)
		}
		if _, cmpErr := s.hasher.Compare(ctx, s.dummy(), in.Password); cmpErr != nil && ctx.Err() != nil {
			return LoginResult{}, fmt.Errorf("login: %w", cmpErr)
		}
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	ok, err := s.hasher.Compare(ctx, user.PasswordHash, in.Password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	if !ok {
		return LoginResult{}, domain.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("login: %w", err)
	}
	return LoginResult{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Role:      user.Role,
		UserID:    user.ID,
		User:      user,
	}, nil
}

// dummy returns the hash compared against for unknown emails. It is computed
// detached from any request context and only cached once it succeeds.
func (s *AuthService) dummy() string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		hash, err := s.hasher.Hash(context.Background(), dummyPassword)
		if err != nil {
			s.logger.WithError(err).Warn("dummy hash unavailable")
			return ""
		}
		s.dummyHash = hash
	}
	return s.dummyHash
}

// SeedAdmin creates the bootstrap ADMIN when none exists yet. It reports
// whether an account was created.
func (s *AuthService) SeedAdmin(ctx context.Context, seed config.AdminSeed) (bool, error) {
	if !seed.Enabled() {
		return false, nil
	}

	exists, err := s.users.ExistsWithRole(ctx, domain.RoleAdmin)
	if err != nil {
		return false, storageError("seed admin", err)
	}
	if exists {
		s.logger.Debug("admin already present, skipping seed")
		return false, nil
	}

	hash, err := s.hasher.Hash(ctx, seed.Password)
	if err != nil {
		return false, fmt.Errorf("seed admin: %w", err)
	}

	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = "Admin"
	}
	address := strings.TrimSpace(seed.Address)
	if address == "" {
		address = "Admin Address"
	}

	user, err := s.users.Create(ctx, repository.UserCreateParams{
		Name:         name,
		Email:        seed.Email,
		PasswordHash: hash,
		Address:      address,
		Role:         domain.RoleAdmin,
	})
	if err != nil {
		return false, storageError("seed admin", err)
	}

	s.logger.WithField("user_id", user.ID).Info("admin account seeded")
	return true, nil
}
