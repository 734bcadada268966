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

// PostgresFirmRepository implements domain.FirmRepository using PostgreSQL.
type PostgresFirmRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresFirmRepository creates a new firm repository.
func NewPostgresFirmRepository(db *sql.DB, logger *slog.Logger) *PostgresFirmRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresFirmRepository{db: db, logger: logger}
}

// Create inserts a firm inside the bootstrap transaction.
func (r *PostgresFirmRepository) Create(ctx context.Context, tx *database.Tx, firm *domain.Firm) error {
	query := `
		INSERT INTO firms (id, firm_id, slug, name, status, default_client_id, bootstrap_status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, query,
		firm.ID,
		firm.FirmID,
		firm.Slug,
		firm.Name,
		firm.Status,
		firm.DefaultClientID,
		firm.BootstrapStatus,
	).Scan(&firm.CreatedAt, &firm.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create firm",
			slog.String("firm_id", firm.FirmID),
			slog.String("error", err.Error()),
		)
		return conflictOr(fmt.Errorf("failed to create firm: %w", err),
			"firm_already_exists", "a firm with this identifier or slug already exists")
	}
	return nil
}

// SetDefaultClient links the system client and marks bootstrap complete.
func (r *PostgresFirmRepository) SetDefaultClient(ctx context.Context, tx *database.Tx, firmID, clientID string) error {
	query := `
		UPDATE firms
		SET default_client_id = $2, bootstrap_status = $3, updated_at = now()
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query, firmID, clientID, domain.BootstrapComplete)
	if err != nil {
		return fmt.Errorf("failed to set default client: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus changes the firm lifecycle status (suspend/activate).
func (r *PostgresFirmRepository) UpdateStatus(ctx context.Context, tx *database.Tx, firmID string, status domain.FirmStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE firms SET status = $2, updated_at = now() WHERE id = $1`,
		firmID, status,
	)
	if err != nil {
		return fmt.Errorf("failed to update firm status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const firmColumns = `id, firm_id, slug, name, status, COALESCE(default_client_id, ''), bootstrap_status, created_at, updated_at`

// GetByID retrieves a firm by internal ID.
func (r *PostgresFirmRepository) GetByID(ctx context.Context, id string) (*domain.Firm, error) {
	return r.getOne(ctx, `SELECT `+firmColumns+` FROM firms WHERE id = $1`, id)
}

// GetBySlug retrieves a firm by its URL slug.
func (r *PostgresFirmRepository) GetBySlug(ctx context.Context, slug string) (*domain.Firm, error) {
	return r.getOne(ctx, `SELECT `+firmColumns+` FROM firms WHERE slug = $1`, slug)
}

// GetByName retrieves a firm by display name.
func (r *PostgresFirmRepository) GetByName(ctx context.Context, name string) (*domain.Firm, error) {
	return r.getOne(ctx, `SELECT `+firmColumns+` FROM firms WHERE name = $1`, name)
}

func (r *PostgresFirmRepository) getOne(ctx context.Context, query string, arg any) (*domain.Firm, error) {
	f := &domain.Firm{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&f.ID, &f.FirmID, &f.Slug, &f.Name, &f.Status,
		&f.DefaultClientID, &f.BootstrapStatus, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get firm: %w", err)
	}
	return f, nil
}
