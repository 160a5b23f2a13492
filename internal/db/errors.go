package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey indicates a unique constraint violation. Upserts never
	// surface this; it only appears on plain inserts racing each other.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrSerialization indicates a transaction serialization failure.
	// Callers should retry the whole transaction.
	ErrSerialization = errors.New("serialization failure")
)

// wrapQueryError maps pgx and Postgres errors onto the package sentinels.
// Returns the original error when no sentinel applies.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.Detail)
		case "40001": // serialization_failure
			return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Message)
		}
	}

	return err
}
