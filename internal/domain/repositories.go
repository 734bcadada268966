package domain

import (
	"context"
	"time"

	"github.com/firmdesk/firmdesk/pkg/database"
)

// FirmRepository defines data access for firms. Mutations take an explicit
// transaction scope; reads may run on the pool.
type FirmRepository interface {
	Create(ctx context.Context, tx *database.Tx, firm *Firm) error
	SetDefaultClient(ctx context.Context, tx *database.Tx, firmID, clientID string) error
	UpdateStatus(ctx context.Context, tx *database.Tx, firmID string, status FirmStatus) error
	GetByID(ctx context.Context, id string) (*Firm, error)
	GetBySlug(ctx context.Context, slug string) (*Firm, error)
	GetByName(ctx context.Context, name string) (*Firm, error)
}

// ClientRepository defines data access for clients.
type ClientRepository interface {
	Create(ctx context.Context, tx *database.Tx, client *Client) error
	GetByID(ctx context.Context, id string) (*Client, error)
	// SystemClientExists reports, inside the active transaction, whether the
	// firm already has an internal client. Guards re-entrant bootstrap.
	SystemClientExists(ctx context.Context, tx *database.Tx, firmID string) (bool, error)
}

// UserRepository defines data access for users.
type UserRepository interface {
	Create(ctx context.Context, tx *database.Tx, user *User) error
	Update(ctx context.Context, tx *database.Tx, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByXID(ctx context.Context, firmID, xid string) (*User, error)
	GetBySetupTokenHash(ctx context.Context, tokenHash string) (*User, error)
}

// AuditRepository is the append-only superadmin audit ledger. Update and
// Delete exist only to fail: immutability is enforced at this layer so no
// generic bulk-update path can reach the records either.
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByPerformer(ctx context.Context, performedByID string, from, to time.Time) ([]*AuditEntry, error)
	ListByTarget(ctx context.Context, entityType, entityID string) ([]*AuditEntry, error)
	Update(ctx context.Context, entry *AuditEntry) error
	Delete(ctx context.Context, id string) error
}
