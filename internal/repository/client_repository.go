package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/pkg/database"
)

// PostgresClientRepository implements domain.ClientRepository using PostgreSQL.
type PostgresClientRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresClientRepository creates a new client repository.
func NewPostgresClientRepository(db *sql.DB, logger *slog.Logger) *PostgresClientRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresClientRepository{db: db, logger: logger}
}

// Create inserts a client inside the active transaction.
func (r *PostgresClientRepository) Create(ctx context.Context, tx *database.Tx, client *domain.Client) error {
	query := `
		INSERT INTO clients (id, client_id, firm_id, business_name, is_system_client, is_internal, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, query,
		client.ID,
		client.ClientID,
		client.FirmID,
		client.BusinessName,
		client.IsSystemClient,
		client.IsInternal,
		client.IsActive,
	).Scan(&client.CreatedAt, &client.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create client",
			slog.String("client_id", client.ClientID),
			slog.String("firm_id", client.FirmID),
			slog.String("error", err.Error()),
		)
		return conflictOr(fmt.Errorf("failed to create client: %w", err),
			"client_already_exists", "a client with this identifier already exists")
	}
	return nil
}

// GetByID retrieves a client by internal ID.
func (r *PostgresClientRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	c := &domain.Client{}
	query := `
		SELECT id, client_id, firm_id, business_name, is_system_client, is_internal, is_active, created_at, updated_at
		FROM clients
		WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.ClientID, &c.FirmID, &c.BusinessName,
		&c.IsSystemClient, &c.IsInternal, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// SystemClientExists checks, within the transaction, whether the firm already
// has an internal client.
func (r *PostgresClientRepository) SystemClientExists(ctx context.Context, tx *database.Tx, firmID string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM clients WHERE firm_id = $1 AND is_internal = true)`,
		firmID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check system client: %w", err)
	}
	return exists, nil
}
