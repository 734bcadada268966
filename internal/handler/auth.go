package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/security/middleware"
	"github.com/firmdesk/firmdesk/internal/service"
)

// AuthHandler exposes login, token refresh and the password lifecycle.
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(auth *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// LoginRequest carries the credentials. FirmSlug is omitted for the platform
// superadmin.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	FirmSlug   string `json:"firmSlug,omitempty"`
	Password   string `json:"password"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	result, err := h.auth.Login(r.Context(), service.LoginInput{
		Identifier: req.Identifier,
		FirmSlug:   req.FirmSlug,
		Password:   req.Password,
	})
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	setTokenCookie(w, result.AccessToken, result.ExpiresAt)
	writeJSON(w, http.StatusOK, result)
}

// RefreshRequest carries the refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	result, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}

	setTokenCookie(w, result.AccessToken, result.ExpiresAt)
	writeJSON(w, http.StatusOK, result)
}

// SetPasswordRequest completes onboarding with the mailed setup token.
type SetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// SetPassword handles POST /api/auth/set-password.
func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := h.auth.SetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password set"})
}

// ChangePasswordRequest rotates the caller's password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword handles POST /api/auth/change-password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.User == nil {
		writeErr(w, h.logger, domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "authentication required"))
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := h.auth.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// ResetPasswordRequest asks for a reset mail.
type ResetPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPassword handles POST /api/auth/reset-password. It succeeds regardless
// of whether the email exists.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset requested"})
}

// ProfileResponse is the authenticated user's own view.
type ProfileResponse struct {
	UserID             string      `json:"userId"`
	XID                string      `json:"xId,omitempty"`
	Name               string      `json:"name,omitempty"`
	Email              string      `json:"email,omitempty"`
	Role               domain.Role `json:"role"`
	FirmID             string      `json:"firmId,omitempty"`
	DefaultClientID    string      `json:"defaultClientId,omitempty"`
	MustSetPassword    bool        `json:"mustSetPassword"`
	MustChangePassword bool        `json:"mustChangePassword"`
}

// Profile handles GET /api/auth/profile.
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeErr(w, h.logger, domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "authentication required"))
		return
	}

	if principal.Superadmin {
		writeJSON(w, http.StatusOK, ProfileResponse{
			UserID: principal.Claims.Subject,
			Role:   domain.RoleSuperAdmin,
		})
		return
	}

	user := principal.User
	writeJSON(w, http.StatusOK, ProfileResponse{
		UserID:             user.ID,
		XID:                user.XID,
		Name:               user.Name,
		Email:              user.Email,
		Role:               user.Role,
		FirmID:             user.FirmID,
		DefaultClientID:    user.DefaultClientID,
		MustSetPassword:    user.MustSetPassword,
		MustChangePassword: user.MustChangePassword,
	})
}

// setTokenCookie mirrors the access token into a cookie for browser clients.
func setTokenCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
