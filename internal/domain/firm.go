package domain

import "time"

// FirmStatus is the tenant lifecycle state.
type FirmStatus string

const (
	FirmActive    FirmStatus = "ACTIVE"
	FirmSuspended FirmStatus = "SUSPENDED"
)

// BootstrapStatus tracks whether the firm's default client/admin chain exists.
type BootstrapStatus string

const (
	BootstrapPending  BootstrapStatus = "PENDING"
	BootstrapComplete BootstrapStatus = "COMPLETE"
)

// Firm is the tenant root. A firm with BootstrapStatus=COMPLETE always has a
// non-empty DefaultClientID referencing its system client.
type Firm struct {
	ID              string // internal UUID
	FirmID          string // sequential human-readable, e.g. FIRM003
	Slug            string // URL-safe, unique
	Name            string
	Status          FirmStatus
	DefaultClientID string // empty until bootstrap completes
	BootstrapStatus BootstrapStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Client is a firm's represented business entity. Exactly one client per firm
// is the internal (system) client created during bootstrap; it is immutable to
// tenant users and cannot be deleted.
type Client struct {
	ID             string // internal UUID
	ClientID       string // sequential, tenant-scoped, e.g. C000001
	FirmID         string // owning firm internal ID
	BusinessName   string
	IsSystemClient bool
	IsInternal     bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
