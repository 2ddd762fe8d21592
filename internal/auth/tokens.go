package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Clark-Hu/store-ratings/internal/domain"
	"github.com/Clark-Hu/store-ratings/internal/metrics"
)

// Claims is the signed token payload.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Token is an issued bearer credential.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs an issuer. A nil clock defaults to time.Now.
func NewTokenIssuer(secret, issuer string, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: now}
}

// Issue signs a token for the given account.
func (i *TokenIssuer) Issue(userID string, role domain.Role) (Token, error) {
	if userID == "" || !role.Valid() {
		return Token{}, fmt.Errorf("issue token: invalid subject %q/%q", userID, role)
	}
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)
	claims := Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and validity window of raw and returns the
// principal it names. Every failure wraps domain.ErrUnauthorized.
func (i *TokenIssuer) Verify(raw string) (Principal, error) {
	if raw == "" {
		metrics.RecordTokenRejection("missing")
		return Principal{}, fmt.Errorf("empty token: %w", domain.ErrUnauthorized)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "expired"
		}
		metrics.RecordTokenRejection(reason)
		return Principal{}, fmt.Errorf("verify token: %v: %w", err, domain.ErrUnauthorized)
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil || claims.UserID == "" {
		metrics.RecordTokenRejection("claims")
		return Principal{}, fmt.Errorf("token claims rejected: %w", domain.ErrUnauthorized)
	}
	return Principal{UserID: claims.UserID, Role: role}, nil
}
