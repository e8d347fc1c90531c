package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes used to classify constraint violations.
const (
	errCodeUniqueViolation     = "23505"
	errCodeForeignKeyViolation = "23503"
)

func isUniqueViolation(err error) bool {
	return isPgError(err, errCodeUniqueViolation)
}

func isForeignKeyViolation(err error) bool { //nolint:unused
	return isPgError(err, errCodeForeignKeyViolation)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
