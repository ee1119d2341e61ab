package repository

import (
	"database/sql"
	"strings"

	"github.com/lib/pq"

	"github.com/iotronic/conductor/internal/apperrors"
)

// isUniqueViolation reports whether err is a Postgres unique_violation on
// the named constraint (or, if constraint is "", any unique_violation).
func isUniqueViolation(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || strings.Contains(pqErr.Constraint, constraint)
}

// requireRowsAffected turns a zero-row UPDATE/DELETE into a not-found error.
func requireRowsAffected(res sql.Result, kind, code, identity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal("checking rows affected", err)
	}
	if n == 0 {
		return apperrors.NotFound(kind, code, identity)
	}
	return nil
}
