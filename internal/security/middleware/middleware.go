package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/observability/metrics"
	"github.com/firmdesk/firmdesk/internal/security/audit"
	"github.com/firmdesk/firmdesk/internal/security/auth"
)

// reject writes an auth-pipeline rejection and counts it.
func reject(w http.ResponseWriter, status int, message, code string) {
	if code == "" {
		metrics.ObserveAuthRejection("invalid_token")
	} else {
		metrics.ObserveAuthRejection(code)
	}
	writeError(w, status, message, code)
}

// accessTokenCookie is the fallback location for the bearer token when the
// Authorization header is absent (browser clients).
const accessTokenCookie = "access_token"

var publicPaths = map[string]struct{}{
	"/healthz":               {},
	"/readyz":                {},
	"/metrics":               {},
	"/api/auth/login":        {},
	"/api/auth/refresh":      {},
	"/api/auth/set-password": {},
}

// Paths a user who still has to set their first password may reach.
var setupAllowedPaths = map[string]struct{}{
	"/api/auth/profile":        {},
	"/api/auth/set-password":   {},
	"/api/auth/reset-password": {},
}

// Paths a user who must change an expired password may reach.
var changeAllowedPaths = map[string]struct{}{
	"/api/auth/profile":         {},
	"/api/auth/change-password": {},
	"/api/auth/refresh":         {},
}

// AuthPipeline verifies the bearer token, resolves the identity, applies the
// account-state and password-lifecycle gates, and enforces tenant isolation.
// Terminal states are authenticated (principal attached) or rejected.
func AuthPipeline(
	tm *auth.TokenManager,
	users domain.UserRepository,
	firms domain.FirmRepository,
	recorder *audit.Recorder,
	log *slog.Logger,
) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			tokenString := bearerToken(r)
			if tokenString == "" {
				reject(w, http.StatusUnauthorized, "authentication required", domain.CodeAuthRequired)
				return
			}

			claims, err := tm.VerifyAccessToken(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrTokenExpired) {
					reject(w, http.StatusUnauthorized, "access token expired", domain.CodeTokenExpired)
					return
				}
				// No retry hint on structurally invalid tokens.
				reject(w, http.StatusUnauthorized, "authentication required", "")
				return
			}

			// The platform superadmin is synthetic: no user row, no tenant.
			if claims.IsSuperadmin() {
				principal := &Principal{Claims: claims, Superadmin: true}
				next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
				return
			}

			user, err := users.GetByID(r.Context(), claims.Subject)
			if err != nil {
				reject(w, http.StatusUnauthorized, "authentication required", "")
				return
			}

			if !user.IsActive {
				reject(w, http.StatusForbidden, "account is deactivated", domain.CodeAccountDeactivated)
				return
			}

			// First-time onboarding gate. MustSetPassword alone decides this:
			// PasswordSet also turns false when a password expires, which must
			// route through the change flow instead.
			if user.MustSetPassword {
				if _, ok := setupAllowedPaths[r.URL.Path]; !ok {
					writeErrorRedirect(w, http.StatusForbidden,
						"password setup required before accessing this resource",
						domain.CodePasswordSetupRequired, "/setup-password")
					return
				}
			}

			// A token minted before a tenant reassignment is stale.
			if user.FirmID != claims.FirmID {
				log.Warn("tenant claim mismatch",
					slog.String("user_id", user.ID),
					slog.String("token_firm", claims.FirmID),
					slog.String("user_firm", user.FirmID),
				)
				reject(w, http.StatusForbidden, "firm access violation", domain.CodeFirmAccessViolation)
				return
			}

			if user.FirmID != "" {
				firm, err := firms.GetByID(r.Context(), user.FirmID)
				if err != nil {
					reject(w, http.StatusUnauthorized, "authentication required", "")
					return
				}
				if firm.Status == domain.FirmSuspended {
					reject(w, http.StatusForbidden, "firm is suspended", domain.CodeFirmSuspended)
					return
				}
			}

			if user.MustChangePassword && !user.MustSetPassword {
				if _, ok := changeAllowedPaths[r.URL.Path]; !ok {
					// Admins stay unblocked so they can keep managing users,
					// but every exempted request is audited.
					if user.Role == domain.RoleAdmin {
						recorder.RecordRequest(r, &domain.AuditEntry{
							ActionType:       domain.AuditPasswordGateExempted,
							Description:      "admin accessed " + r.URL.Path + " with a pending password change",
							PerformedBy:      user.Email,
							PerformedByID:    user.ID,
							TargetEntityType: "user",
							TargetEntityID:   user.ID,
						})
					} else {
						writeErrorRedirect(w, http.StatusForbidden,
							"password change required before accessing this resource",
							domain.CodePasswordChangeRequired, "/change-password")
						return
					}
				}
			}

			principal := &Principal{User: user, Claims: claims}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, err := auth.ExtractToken(header)
		if err == nil {
			return token
		}
		return ""
	}
	if cookie, err := r.Cookie(accessTokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
