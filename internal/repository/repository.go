package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrOverlappingContract is returned when a contract insert or edit
	// would overlap an existing contract period for the same GSRN. It is
	// raised both by the in-process pre-check and by the storage-level
	// exclusion guard, so concurrent creators cannot both win.
	ErrOverlappingContract = errors.New("contract period overlaps an existing contract")

	// ErrCertificateExists is returned when a live certificate already
	// covers the (gsrn, period) pair.
	ErrCertificateExists = errors.New("certificate already exists for period")

	// ErrVersionConflict is returned when an optimistic-concurrency write
	// lost against a concurrent update of the same sliding window.
	ErrVersionConflict = errors.New("sliding window modified concurrently")
)

const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// Repository handles database operations for contracts, sliding windows,
// sponsorships and certificates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// isConstraintViolation reports whether err is a unique or exclusion
// constraint failure, optionally restricted to a named constraint.
func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != pgUniqueViolation && pgErr.Code != pgExclusionViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
