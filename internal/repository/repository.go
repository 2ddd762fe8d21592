package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/store-ratings/internal/store"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicateEmail indicates the users email uniqueness constraint fired.
	ErrDuplicateEmail = errors.New("repository: duplicate email")
	// ErrOwnerHasStore indicates the owner already owns a store.
	ErrOwnerHasStore = errors.New("repository: owner already has a store")
)

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgInvalidTextRep       = "22P02"
	usersEmailConstraint   = "users_email_key"
	storesOwnerConstraint  = "stores_owner_id_key"
	defaultListSortColumn  = "name"
	likeEscapeChar         = `\`
	defaultTransactionMode = pgx.ReadCommitted
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txRunner executes a function inside a bounded transaction.
type txRunner struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// run commits when fn returns nil and rolls back otherwise, including when the
// timeout expires mid-transaction.
func (t txRunner) run(ctx context.Context, fn func(pgx.Tx) error) error {
	timeout := t.timeout
	if timeout <= 0 {
		timeout = store.DefaultTxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: defaultTransactionMode}, fn)
}

// Repository aggregates all domain-specific repositories.
type Repository struct {
	Users   *UsersRepository
	Stores  *StoresRepository
	Ratings *RatingsRepository
	tx      txRunner
}

// New constructs a Repository backed by the provided store.
func New(st *store.Store) *Repository {
	return build(st.Pool(), st.TxTimeout())
}

// NewWithPool allows constructing repositories directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool, txTimeout time.Duration) *Repository {
	return build(pool, txTimeout)
}

func build(pool *pgxpool.Pool, txTimeout time.Duration) *Repository {
	tx := txRunner{pool: pool, timeout: txTimeout}
	return &Repository{
		Users:   &UsersRepository{pool: pool},
		Stores:  &StoresRepository{pool: pool},
		Ratings: &RatingsRepository{pool: pool, tx: tx},
		tx:      tx,
	}
}

// CreateOwnerWithStore inserts an OWNER account and its store atomically.
// If either insert fails neither row is persisted.
func (r *Repository) CreateOwnerWithStore(ctx context.Context, user UserCreateParams, st StoreCreateParams) (OwnerWithStore, error) {
	var out OwnerWithStore
	err := r.tx.run(ctx, func(tx pgx.Tx) error {
		created, err := insertUser(ctx, tx, user)
		if err != nil {
			return err
		}
		st.OwnerID = created.ID
		createdStore, err := insertStore(ctx, tx, st)
		if err != nil {
			return err
		}
		out = OwnerWithStore{User: created, Store: createdStore}
		return nil
	})
	if err != nil {
		return OwnerWithStore{}, err
	}
	return out, nil
}

// SortOrder is the direction of a listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ParseSortOrder maps user input to a SortOrder, defaulting to ascending.
func ParseSortOrder(raw string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(raw), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

func orderClause(columns map[string]string, sortBy string, order SortOrder, tiebreak string) string {
	col, ok := columns[sortBy]
	if !ok {
		col = columns[defaultListSortColumn]
	}
	dir := "ASC"
	if order == SortDesc {
		dir = "DESC"
	}
	nulls := ""
	if strings.Contains(col, "average_rating") {
		nulls = " NULLS LAST"
	}
	return fmt.Sprintf(" ORDER BY %s %s%s, %s", col, dir, nulls, tiebreak)
}

// likePattern wraps a search term for a substring ILIKE match, escaping the
// wildcard characters the user typed.
func likePattern(term string) string {
	r := strings.NewReplacer(likeEscapeChar, likeEscapeChar+likeEscapeChar, "%", likeEscapeChar+"%", "_", likeEscapeChar+"_")
	return "%" + r.Replace(strings.TrimSpace(term)) + "%"
}

func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

// mapWriteError translates constraint violations into repository errors.
func mapWriteError(err error) error {
	code, constraint := pgErrorCode(err)
	switch {
	case code == pgUniqueViolation && constraint == usersEmailConstraint:
		return ErrDuplicateEmail
	case code == pgUniqueViolation && constraint == storesOwnerConstraint:
		return ErrOwnerHasStore
	case code == pgForeignKeyViolation:
		return ErrNotFound
	default:
		return err
	}
}

// mapReadError turns missing rows and malformed identifiers into ErrNotFound.
func mapReadError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if code, _ := pgErrorCode(err); code == pgInvalidTextRep {
		return ErrNotFound
	}
	return err
}

// IsTransient reports whether err is a storage failure the caller may retry:
// timeouts, lock or serialization conflicts and lost connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	code, _ := pgErrorCode(err)
	switch {
	case code == "":
		var connErr *pgconn.ConnectError
		return errors.As(err, &connErr)
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "40"), strings.HasPrefix(code, "57P"):
		return true
	case code == "55P03":
		return true
	default:
		return false
	}
}
