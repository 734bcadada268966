package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firmdesk/firmdesk/internal/domain"
)

// PostgresAuditRepository is the append-only superadmin audit ledger. The
// schema backs this up with a rule rejecting UPDATE/DELETE, but the repository
// never issues either statement in the first place.
type PostgresAuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAuditRepository creates a new audit repository.
func NewPostgresAuditRepository(db *sql.DB, logger *slog.Logger) *PostgresAuditRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditRepository{db: db, logger: logger}
}

// Append inserts one audit record. Audit writes run outside business
// transactions so a business rollback never erases the failure trail.
func (r *PostgresAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	query := `
		INSERT INTO superadmin_audit (
			id, action_type, description, performed_by, performed_by_id,
			performed_by_system, target_entity_type, target_entity_id,
			ip_address, user_agent, metadata
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
		RETURNING created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		entry.ID, entry.ActionType, entry.Description,
		entry.PerformedBy, entry.PerformedByID, entry.PerformedBySystem,
		entry.TargetEntityType, entry.TargetEntityID,
		entry.IPAddress, entry.UserAgent, metadata,
	).Scan(&entry.CreatedAt)
	if err != nil {
		r.logger.Error("failed to append audit entry",
			slog.String("action", string(entry.ActionType)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

const auditColumns = `
	id, action_type, description, performed_by, COALESCE(performed_by_id, ''),
	performed_by_system, target_entity_type, target_entity_id,
	ip_address, user_agent, metadata, created_at
`

// ListByPerformer returns entries by one performer within a time window,
// served by the (performed_by_id, created_at) index.
func (r *PostgresAuditRepository) ListByPerformer(ctx context.Context, performedByID string, from, to time.Time) ([]*domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM superadmin_audit
		WHERE performed_by_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, performedByID, from, to)
}

// ListByTarget returns entries touching one target entity, served by the
// (target_entity_type, target_entity_id) index.
func (r *PostgresAuditRepository) ListByTarget(ctx context.Context, entityType, entityID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM superadmin_audit
		WHERE target_entity_type = $1 AND target_entity_id = $2
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, entityType, entityID)
}

// Update always fails: the ledger is immutable by construction.
func (r *PostgresAuditRepository) Update(ctx context.Context, entry *domain.AuditEntry) error {
	return domain.ErrAuditImmutable
}

// Delete always fails: the ledger is immutable by construction.
func (r *PostgresAuditRepository) Delete(ctx context.Context, id string) error {
	return domain.ErrAuditImmutable
}

func (r *PostgresAuditRepository) list(ctx context.Context, query string, args ...any) ([]*domain.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		e := &domain.AuditEntry{}
		var metadata []byte
		if err := rows.Scan(
			&e.ID, &e.ActionType, &e.Description, &e.PerformedBy, &e.PerformedByID,
			&e.PerformedBySystem, &e.TargetEntityType, &e.TargetEntityID,
			&e.IPAddress, &e.UserAgent, &metadata, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
