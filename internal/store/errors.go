package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsDataError reports whether err was caused by the data in a statement rather
// than by the database or the connection. SQLSTATE class 22 (data exception)
// and class 23 (integrity constraint violation) are record-level problems that
// per-record fallback can isolate. Everything else, including connection
// failures, timeouts and permission errors, is infrastructure.
func IsDataError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23")
}

// IsUndefinedTable reports a missing relation (SQLSTATE 42P01).
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
