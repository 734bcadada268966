package domain

import "time"

// AuditAction is the closed enumeration of privileged actions recorded in the
// superadmin audit log.
type AuditAction string

const (
	AuditFirmCreated          AuditAction = "firm_created"
	AuditFirmCreationFailed   AuditAction = "firm_creation_failed"
	AuditFirmStatusChanged    AuditAction = "firm_status_changed"
	AuditAdminAdded           AuditAction = "admin_added"
	AuditPasswordGateExempted AuditAction = "password_gate_exempted"
	AuditLoginLocked          AuditAction = "login_locked"
)

// AuditEntry is one append-only record. System actions carry an empty
// PerformedByID and PerformedBySystem=true.
type AuditEntry struct {
	ID                string
	ActionType        AuditAction
	Description       string
	PerformedBy       string
	PerformedByID     string
	PerformedBySystem bool
	TargetEntityType  string
	TargetEntityID    string
	IPAddress         string
	UserAgent         string
	Metadata          map[string]string
	CreatedAt         time.Time
}
