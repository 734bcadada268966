package domain

import "time"

// Role is a closed set; authorization never branches on raw strings.
type Role string

const (
	RoleSuperAdmin Role = "SuperAdmin"
	RoleAdmin      Role = "Admin"
	RoleEmployee   Role = "Employee"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleEmployee:
		return true
	}
	return false
}

// UserStatus is the account lifecycle state.
type UserStatus string

const (
	UserInvited UserStatus = "INVITED"
	UserActive  UserStatus = "ACTIVE"
)

// PasswordHistoryLimit bounds the retained hash ring used to reject reuse.
const PasswordHistoryLimit = 5

// User is an identity. Non-superadmin users always carry FirmID and
// DefaultClientID; the platform superadmin carries neither.
type User struct {
	ID              string // internal UUID
	XID             string // sequential employee identifier, X000001
	FirmID          string // empty only for the platform superadmin
	DefaultClientID string
	Role            Role
	Name            string
	Email           string
	Status          UserStatus
	PasswordHash    string // empty pre-setup

	// Password lifecycle. MustSetPassword marks first-time onboarding and is
	// the only flag gating the setup allow-list; PasswordSet merely records
	// that a hash exists.
	PasswordSet        bool
	MustSetPassword    bool
	MustChangePassword bool
	SetupTokenHash     string
	SetupTokenExpires  time.Time
	PasswordExpiresAt  time.Time
	PasswordHistory    []string // bounded by PasswordHistoryLimit

	FailedLoginAttempts int
	LockUntil           time.Time
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account is under a failed-login lock at now.
func (u *User) Locked(now time.Time) bool {
	return !u.LockUntil.IsZero() && now.Before(u.LockUntil)
}
