package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/firmdesk/firmdesk/internal/domain"
)

// CaseStatus values appear in mutation payloads; the guard only knows enough
// about them to veto illegal transitions.
const (
	StatusNew        = "NEW"
	StatusAssigned   = "ASSIGNED"
	StatusInProgress = "IN_PROGRESS"
	StatusPending    = "PENDING"
	StatusResolved   = "RESOLVED"
	StatusFiled      = "FILED"
	StatusClosed     = "CLOSED"
)

var terminalStatuses = map[string]struct{}{
	StatusClosed: {},
	StatusFiled:  {},
}

// forbiddenTransitions lists (from, to) pairs that are never legal beyond the
// blanket terminal-to-non-terminal rule.
var forbiddenTransitions = map[[2]string]struct{}{
	{StatusClosed, StatusInProgress}: {},
	{StatusResolved, StatusNew}:      {},
}

// CheckStatusTransition rejects transitions out of a terminal state and any
// explicitly forbidden pair.
func CheckStatusTransition(from, to string) error {
	if from == to {
		return nil
	}
	if _, terminal := terminalStatuses[from]; terminal {
		if _, alsoTerminal := terminalStatuses[to]; !alsoTerminal {
			return domain.E(domain.KindAuthorization, domain.CodeIllegalStatusTransition,
				"cannot move a case out of a terminal state")
		}
	}
	if _, forbidden := forbiddenTransitions[[2]string{from, to}]; forbidden {
		return domain.E(domain.KindAuthorization, domain.CodeIllegalStatusTransition,
			"status transition is not allowed")
	}
	return nil
}

// CheckClientMutable rejects mutation or deletion of system clients.
func CheckClientMutable(client *domain.Client, deletion bool) error {
	if client.IsSystemClient || client.IsInternal {
		if deletion {
			return domain.E(domain.KindAuthorization, domain.CodeDefaultClientUndeletable,
				"the firm's default client cannot be deleted")
		}
		return domain.E(domain.KindAuthorization, domain.CodeSystemClientImmutable,
			"system clients cannot be modified")
	}
	return nil
}

// mutationEnvelope is the subset of mutation payload fields the guard
// inspects. Unknown fields are ignored.
type mutationEnvelope struct {
	FirmID        string `json:"firmId"`
	UserID        string `json:"userId"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	CurrentStatus string `json:"currentStatus"`
}

// InvariantGuard applies cross-cutting domain invariants to every mutating
// request, independent of route policies: tenant context in the payload must
// match the caller's tenant, callers may not change their own role, and
// status transitions must be legal.
func InvariantGuard(log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read request body", domain.CodeValidationError)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var payload mutationEnvelope
			if len(body) > 0 {
				// A non-JSON body is the handler's problem, not the guard's.
				_ = json.Unmarshal(body, &payload)
			}

			id := principal.PolicyIdentity()

			// Superadmins act across firms by design; everyone else must stay
			// inside their own tenant.
			if !principal.Superadmin {
				target := payload.FirmID
				if pathFirm := r.PathValue("firmId"); pathFirm != "" {
					target = pathFirm
				}
				if target != "" && target != id.FirmID {
					log.Warn("cross-firm mutation rejected",
						slog.String("user_id", id.UserID),
						slog.String("user_firm", id.FirmID),
						slog.String("target_firm", target),
					)
					writeError(w, http.StatusForbidden, "request targets another firm", domain.CodeCrossFirmAccessDenied)
					return
				}
			}

			if payload.Role != "" {
				target := payload.UserID
				if pathUser := r.PathValue("userId"); pathUser != "" {
					target = pathUser
				}
				if target != "" && target == id.UserID {
					writeError(w, http.StatusForbidden, "cannot change your own role", domain.CodeImmutableRoleSelfChange)
					return
				}
			}

			if payload.CurrentStatus != "" && payload.Status != "" {
				if err := CheckStatusTransition(payload.CurrentStatus, payload.Status); err != nil {
					writeError(w, domain.HTTPStatus(err), err.Error(), domain.CodeOf(err))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
