package repository

import (
	"errors"

	"github.com/lib/pq"

	"github.com/firmdesk/firmdesk/internal/domain"
)

const pgUniqueViolation = "23505"

// conflictOr maps Postgres unique violations to a domain conflict error and
// leaves everything else untouched.
func conflictOr(err error, code, message string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
		return domain.E(domain.KindConflict, code, message).Wrap(err)
	}
	return err
}
