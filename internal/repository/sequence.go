package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/pkg/database"
)

// SequenceScope describes one identifier namespace: a fixed prefix, a
// zero-padded width and the query returning the highest allocated suffix.
type SequenceScope struct {
	prefix string
	width  int
	query  string
	args   []any
}

// FirmScope allocates global firm identifiers (FIRM001, FIRM002, ...).
func FirmScope() SequenceScope {
	return SequenceScope{
		prefix: "FIRM",
		width:  3,
		query: `
			SELECT COALESCE(MAX(CAST(SUBSTRING(firm_id FROM 5) AS INTEGER)), 0)
			FROM firms
		`,
	}
}

// ClientScope allocates client identifiers within one firm (C000001, ...).
func ClientScope(firmID string) SequenceScope {
	return SequenceScope{
		prefix: "C",
		width:  6,
		query: `
			SELECT COALESCE(MAX(CAST(SUBSTRING(client_id FROM 2) AS INTEGER)), 0)
			FROM clients
			WHERE firm_id = $1
		`,
		args: []any{firmID},
	}
}

// EmployeeScope allocates employee identifiers within one firm (X000001, ...).
func EmployeeScope(firmID string) SequenceScope {
	return SequenceScope{
		prefix: "X",
		width:  6,
		query: `
			SELECT COALESCE(MAX(CAST(SUBSTRING(xid FROM 2) AS INTEGER)), 0)
			FROM users
			WHERE firm_id = $1 AND xid <> ''
		`,
		args: []any{firmID},
	}
}

// SequenceGenerator produces sequential identifiers inside an active
// transaction. Concurrent transactions allocating in the same scope serialize
// through the transaction's isolation level, so an identifier is never handed
// out twice; an aborted transaction may leave a gap, which is acceptable.
type SequenceGenerator struct {
	logger *slog.Logger
}

// NewSequenceGenerator creates a sequence generator.
func NewSequenceGenerator(logger *slog.Logger) *SequenceGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &SequenceGenerator{logger: logger}
}

// Next returns the next identifier for the scope. The first allocation in an
// empty scope yields suffix 1. Calling without a transaction scope fails.
func (g *SequenceGenerator) Next(ctx context.Context, tx *database.Tx, scope SequenceScope) (string, error) {
	if tx == nil {
		return "", domain.ErrSequenceRequiresTransaction
	}

	var highest int
	if err := tx.QueryRowContext(ctx, scope.query, scope.args...).Scan(&highest); err != nil {
		g.logger.Error("failed to read sequence high-water mark",
			slog.String("prefix", scope.prefix),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("failed to read %s sequence: %w", scope.prefix, err)
	}

	return fmt.Sprintf("%s%0*d", scope.prefix, scope.width, highest+1), nil
}
