package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/pkg/database"
)

// PostgresUserRepository implements domain.UserRepository using PostgreSQL.
type PostgresUserRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresUserRepository creates a new user repository.
func NewPostgresUserRepository(db *sql.DB, logger *slog.Logger) *PostgresUserRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresUserRepository{db: db, logger: logger}
}

// Create inserts a user inside the active transaction.
func (r *PostgresUserRepository) Create(ctx context.Context, tx *database.Tx, user *domain.User) error {
	query := `
		INSERT INTO users (
			id, xid, firm_id, default_client_id, role, name, email, status,
			password_hash, password_set, must_set_password, must_change_password,
			setup_token_hash, setup_token_expires, password_expires_at,
			password_history, failed_login_attempts, lock_until, is_active
		)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, query,
		user.ID, user.XID, user.FirmID, user.DefaultClientID,
		user.Role, user.Name, user.Email, user.Status,
		user.PasswordHash, user.PasswordSet, user.MustSetPassword, user.MustChangePassword,
		user.SetupTokenHash, nullTime(user.SetupTokenExpires), nullTime(user.PasswordExpiresAt),
		pq.StringArray(user.PasswordHistory), user.FailedLoginAttempts, nullTime(user.LockUntil), user.IsActive,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create user",
			slog.String("email", user.Email),
			slog.String("error", err.Error()),
		)
		return conflictOr(fmt.Errorf("failed to create user: %w", err),
			"user_already_exists", "a user with this email or employee id already exists")
	}
	return nil
}

// Update rewrites the mutable user fields inside the active transaction.
func (r *PostgresUserRepository) Update(ctx context.Context, tx *database.Tx, user *domain.User) error {
	query := `
		UPDATE users
		SET role = $2, name = $3, status = $4,
			password_hash = $5, password_set = $6,
			must_set_password = $7, must_change_password = $8,
			setup_token_hash = $9, setup_token_expires = $10, password_expires_at = $11,
			password_history = $12, failed_login_attempts = $13, lock_until = $14,
			is_active = $15, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err := tx.QueryRowContext(ctx, query,
		user.ID, user.Role, user.Name, user.Status,
		user.PasswordHash, user.PasswordSet,
		user.MustSetPassword, user.MustChangePassword,
		user.SetupTokenHash, nullTime(user.SetupTokenExpires), nullTime(user.PasswordExpiresAt),
		pq.StringArray(user.PasswordHistory), user.FailedLoginAttempts, nullTime(user.LockUntil),
		user.IsActive,
	).Scan(&user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

const userColumns = `
	id, COALESCE(xid, ''), COALESCE(firm_id, ''), COALESCE(default_client_id, ''),
	role, name, email, status,
	COALESCE(password_hash, ''), password_set, must_set_password, must_change_password,
	COALESCE(setup_token_hash, ''), setup_token_expires, password_expires_at,
	password_history, failed_login_attempts, lock_until, is_active, created_at, updated_at
`

// GetByID retrieves a user by internal ID.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves a user by email.
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByXID retrieves a user by tenant-scoped employee identifier.
func (r *PostgresUserRepository) GetByXID(ctx context.Context, firmID, xid string) (*domain.User, error) {
	u := &domain.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE firm_id = $1 AND xid = $2`
	if err := r.scanOne(r.db.QueryRowContext(ctx, query, firmID, xid), u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetBySetupTokenHash retrieves a user by the hashed password-setup token.
func (r *PostgresUserRepository) GetBySetupTokenHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE setup_token_hash = $1`, tokenHash)
}

// ClearExpiredLocks resets the failure counter on accounts whose lockout
// window has passed. Login already treats an expired lock_until as unlocked;
// this keeps the rows tidy for operators querying locked accounts.
func (r *PostgresUserRepository) ClearExpiredLocks(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, lock_until = NULL, updated_at = now()
		WHERE lock_until IS NOT NULL AND lock_until < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired locks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared locks: %w", err)
	}
	return int(n), nil
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	if err := r.scanOne(r.db.QueryRowContext(ctx, query, arg), u); err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresUserRepository) scanOne(row *sql.Row, u *domain.User) error {
	var history pq.StringArray
	var setupExp, pwExp, lockUntil sql.NullTime
	err := row.Scan(
		&u.ID, &u.XID, &u.FirmID, &u.DefaultClientID,
		&u.Role, &u.Name, &u.Email, &u.Status,
		&u.PasswordHash, &u.PasswordSet, &u.MustSetPassword, &u.MustChangePassword,
		&u.SetupTokenHash, &setupExp, &pwExp,
		&history, &u.FailedLoginAttempts, &lockUntil, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	u.PasswordHistory = []string(history)
	u.SetupTokenExpires = setupExp.Time
	u.PasswordExpiresAt = pwExp.Time
	u.LockUntil = lockUntil.Time
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
