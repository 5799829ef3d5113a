package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested deposit does not exist.
	ErrNotFound = errors.New("deposit not found")

	// ErrDuplicate is returned when inserting a deposit whose tx_hash is
	// already in the ledger. The sync engine checks existence before
	// inserting, so seeing this normally indicates a caller bypassed the
	// per-account lock.
	ErrDuplicate = errors.New("duplicate tx_hash")
)

// PostgreSQL error codes
const pgErrUniqueViolation = "23505" // unique_violation

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
