package store

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a keyed update or lookup matches no row.
var ErrNotFound = errors.New("store: not found")

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique_violation raised
// through either supported driver (lib/pq or pgx).
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
