package domain

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/firmdesk/firmdesk/pkg/database"
)

// ErrorKind classifies failures into a closed set so handlers can map them
// to HTTP statuses without string matching.
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindTransactionUnavailable
	KindInternal
)

// Stable machine-readable codes carried in error responses.
const (
	CodeAuthRequired                = "AUTH_REQUIRED"
	CodeTokenExpired                = "TOKEN_EXPIRED"
	CodeAccountDeactivated          = "ACCOUNT_DEACTIVATED"
	CodeAccountLocked               = "ACCOUNT_LOCKED"
	CodePasswordSetupRequired       = "PASSWORD_SETUP_REQUIRED"
	CodePasswordChangeRequired      = "PASSWORD_CHANGE_REQUIRED"
	CodeFirmAccessViolation         = "FIRM_ACCESS_VIOLATION"
	CodeFirmSuspended               = "FIRM_SUSPENDED"
	CodeForbidden                   = "FORBIDDEN"
	CodeValidationError             = "VALIDATION_ERROR"
	CodeIdempotencyKeyRequired      = "idempotency_key_required"
	CodeIdempotencyKeyConflict      = "idempotency_key_conflict"
	CodeCrossFirmAccessDenied       = "cross_firm_access_denied"
	CodeImmutableRoleSelfChange     = "immutable_role_self_change"
	CodeSystemClientImmutable       = "system_client_immutable"
	CodeDefaultClientUndeletable    = "default_client_cannot_be_deleted"
	CodeIllegalStatusTransition     = "illegal_status_transition"
	CodeSequenceRequiresTransaction = "SEQUENCE_REQUIRES_TRANSACTION"
	CodeTransactionUnavailable      = "TRANSACTION_UNAVAILABLE"
)

// Error is the single error type crossing layer boundaries. Kind drives the
// HTTP status, Code is the machine-readable branch key for clients.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

// Is matches by kind and code, so a wrapped clone still matches its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// E constructs a domain error.
func E(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	clone := *e
	clone.err = err
	return &clone
}

// WithField marks the offending input field on validation errors.
func (e *Error) WithField(field string) *Error {
	clone := *e
	clone.Field = field
	return &clone
}

var statusByKind = map[ErrorKind]int{
	KindValidation:             http.StatusBadRequest,
	KindAuthentication:         http.StatusUnauthorized,
	KindAuthorization:          http.StatusForbidden,
	KindNotFound:               http.StatusNotFound,
	KindConflict:               http.StatusConflict,
	KindTransactionUnavailable: http.StatusServiceUnavailable,
	KindInternal:               http.StatusInternalServerError,
}

// Normalize maps infrastructure errors onto the taxonomy so handlers see one
// error shape. The database layer cannot return domain errors itself without
// an import cycle.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, database.ErrUnavailable) {
		return ErrTransactionUnavailable.Wrap(err)
	}
	return err
}

// HTTPStatus maps an error to its response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	var de *Error
	if errors.As(err, &de) {
		if s, ok := statusByKind[de.Kind]; ok {
			return s
		}
	}
	return http.StatusInternalServerError
}

// CodeOf extracts the machine code from an error, empty for unknown errors.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Shared sentinels.
var (
	ErrNotFound = E(KindNotFound, "", "not found")

	// ErrAuditImmutable is returned by the audit repository for any update or
	// delete attempt, including bulk code paths.
	ErrAuditImmutable = E(KindAuthorization, "audit_log_immutable", "audit records cannot be modified or deleted")

	// ErrSequenceRequiresTransaction is returned when an identifier is
	// requested outside an active transaction scope.
	ErrSequenceRequiresTransaction = E(KindInternal, CodeSequenceRequiresTransaction, "sequence generation requires an active transaction")

	// ErrTransactionUnavailable signals the store could not open a session.
	// Writes fail closed rather than proceed non-transactionally.
	ErrTransactionUnavailable = E(KindTransactionUnavailable, CodeTransactionUnavailable, "service temporarily unavailable")
)
