package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/security/middleware"
	"github.com/firmdesk/firmdesk/internal/service"
)

// FirmProvisioner is the bootstrap surface the superadmin firm endpoints
// drive.
type FirmProvisioner interface {
	CreateFirm(ctx context.Context, in service.CreateFirmInput) (*service.CreateFirmResult, error)
	SetFirmStatus(ctx context.Context, firmID string, status domain.FirmStatus, requestedBy string) (*domain.Firm, error)
	AddAdmin(ctx context.Context, in service.AddAdminInput) (*domain.User, string, error)
}

// FirmHandler exposes the superadmin firm provisioning surface.
type FirmHandler struct {
	bootstrap FirmProvisioner
	logger    *slog.Logger
}

// NewFirmHandler creates a firm handler.
func NewFirmHandler(bootstrap FirmProvisioner, logger *slog.Logger) *FirmHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirmHandler{bootstrap: bootstrap, logger: logger}
}

// CreateFirmRequest is the provisioning payload.
type CreateFirmRequest struct {
	Name       string `json:"name"`
	AdminName  string `json:"adminName"`
	AdminEmail string `json:"adminEmail"`
}

// FirmResponse is the provisioned hierarchy view.
type FirmResponse struct {
	ID              string `json:"id"`
	FirmID          string `json:"firmId"`
	Slug            string `json:"slug"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	DefaultClientID string `json:"defaultClientId"`
	ClientID        string `json:"clientId,omitempty"`
	AdminXID        string `json:"adminXId,omitempty"`
	AdminEmail      string `json:"adminEmail,omitempty"`
	Idempotent      bool   `json:"idempotent,omitempty"`
}

// CreateFirm handles POST /api/superadmin/firms. A fresh bootstrap answers
// 201; a retry of an identical completed request answers 200 with the
// existing hierarchy.
func (h *FirmHandler) CreateFirm(w http.ResponseWriter, r *http.Request) {
	var req CreateFirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	result, err := h.bootstrap.CreateFirm(r.Context(), service.CreateFirmInput{
		Name:        req.Name,
		AdminName:   req.AdminName,
		AdminEmail:  req.AdminEmail,
		RequestedBy: performerOf(r),
	})
	if err != nil {
		h.writeBootstrapErr(w, err)
		return
	}

	resp := firmView(result.Firm)
	resp.ClientID = result.DefaultClient.ClientID
	resp.AdminXID = result.DefaultAdmin.XID
	resp.AdminEmail = result.DefaultAdmin.Email
	resp.Idempotent = result.Idempotent

	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// writeBootstrapErr surfaces the failed provisioning step so operators can
// tell a rolled-back bootstrap from a plain validation error.
func (h *FirmHandler) writeBootstrapErr(w http.ResponseWriter, err error) {
	var be *service.BootstrapError
	if !errors.As(err, &be) {
		writeErr(w, h.logger, err)
		return
	}

	cause := domain.Normalize(be.Err)
	status := domain.HTTPStatus(cause)
	code := domain.CodeOf(cause)
	message := "firm provisioning failed and was rolled back"
	var de *domain.Error
	if errors.As(cause, &de) {
		message = de.Message
	} else {
		h.logger.Error("firm bootstrap failed",
			slog.String("step", be.Step),
			slog.String("error", be.Err.Error()),
		)
	}

	writeJSONRaw(w, status, map[string]any{
		"success":     false,
		"message":     message,
		"code":        code,
		"failureStep": be.Step,
	})
}

// SetStatusRequest changes a firm's lifecycle state.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PATCH /api/superadmin/firms/{firmId}/status.
func (h *FirmHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	firmID := r.PathValue("firmId")
	if firmID == "" {
		writeErr(w, h.logger, domain.E(domain.KindValidation, domain.CodeValidationError, "firmId is required").WithField("firmId"))
		return
	}

	var req SetStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	firm, err := h.bootstrap.SetFirmStatus(r.Context(), firmID, domain.FirmStatus(req.Status), performerOf(r))
	if err != nil {
		writeErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, firmView(firm))
}

// AddAdminRequest creates an additional admin for a firm.
type AddAdminRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	XID   string `json:"xId,omitempty"`
}

// AdminResponse is the created admin view.
type AdminResponse struct {
	UserID string `json:"userId"`
	XID    string `json:"xId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

// AddAdmin handles POST /api/superadmin/firms/{firmId}/admin.
func (h *FirmHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	firmID := r.PathValue("firmId")
	if firmID == "" {
		writeErr(w, h.logger, domain.E(domain.KindValidation, domain.CodeValidationError, "firmId is required").WithField("firmId"))
		return
	}

	var req AddAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, h.logger, err)
		return
	}

	admin, _, err := h.bootstrap.AddAdmin(r.Context(), service.AddAdminInput{
		FirmID:      firmID,
		Name:        req.Name,
		Email:       req.Email,
		XID:         req.XID,
		RequestedBy: performerOf(r),
	})
	if err != nil {
		h.writeBootstrapErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AdminResponse{
		UserID: admin.ID,
		XID:    admin.XID,
		Name:   admin.Name,
		Email:  admin.Email,
		Status: string(admin.Status),
	})
}

func firmView(firm *domain.Firm) FirmResponse {
	return FirmResponse{
		ID:              firm.ID,
		FirmID:          firm.FirmID,
		Slug:            firm.Slug,
		Name:            firm.Name,
		Status:          string(firm.Status),
		DefaultClientID: firm.DefaultClientID,
	}
}

// performerOf identifies the caller for audit attribution.
func performerOf(r *http.Request) string {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok || principal.Claims == nil {
		return ""
	}
	return principal.Claims.Subject
}
