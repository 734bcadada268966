package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/service"
	"github.com/firmdesk/firmdesk/pkg/database"
)

type stubProvisioner struct {
	result *service.CreateFirmResult
	err    error
}

func (s *stubProvisioner) CreateFirm(context.Context, service.CreateFirmInput) (*service.CreateFirmResult, error) {
	return s.result, s.err
}

func (s *stubProvisioner) SetFirmStatus(context.Context, string, domain.FirmStatus, string) (*domain.Firm, error) {
	return nil, domain.ErrNotFound
}

func (s *stubProvisioner) AddAdmin(context.Context, service.AddAdminInput) (*domain.User, string, error) {
	return nil, "", domain.ErrNotFound
}

func provisionedResult(idempotent bool) *service.CreateFirmResult {
	return &service.CreateFirmResult{
		Firm: &domain.Firm{
			ID:              "uuid-firm",
			FirmID:          "FIRM001",
			Slug:            "acme-legal",
			Name:            "Acme Legal",
			Status:          domain.FirmActive,
			DefaultClientID: "uuid-client",
		},
		DefaultClient: &domain.Client{ID: "uuid-client", ClientID: "C000001"},
		DefaultAdmin:  &domain.User{ID: "uuid-admin", XID: "X000001", Email: "jo@acme.test"},
		Idempotent:    idempotent,
	}
}

func postFirm(t *testing.T, h *FirmHandler) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"name":"Acme Legal","adminName":"Jo Admin","adminEmail":"jo@acme.test"}`
	req := httptest.NewRequest(http.MethodPost, "/api/superadmin/firms", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.CreateFirm(w, req)
	return w
}

func decodeData(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Success {
		t.Fatal("expected success envelope")
	}
	return body.Data
}

func TestCreateFirmFreshBootstrapOmitsIdempotentFlag(t *testing.T) {
	h := NewFirmHandler(&stubProvisioner{result: provisionedResult(false)}, discardLogger())

	w := postFirm(t, h)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	data := decodeData(t, w.Body)
	if data["firmId"] != "FIRM001" {
		t.Errorf("firmId = %v", data["firmId"])
	}
	if _, present := data["idempotent"]; present {
		t.Error("fresh bootstrap should not carry the idempotent flag")
	}
}

func TestCreateFirmReplayAnswersIdempotentTrue(t *testing.T) {
	h := NewFirmHandler(&stubProvisioner{result: provisionedResult(true)}, discardLogger())

	w := postFirm(t, h)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data := decodeData(t, w.Body)
	if data["idempotent"] != true {
		t.Errorf("idempotent = %v, want true", data["idempotent"])
	}
	if data["firmId"] != "FIRM001" || data["adminXId"] != "X000001" {
		t.Errorf("replay lost identifiers: %v", data)
	}
}

func TestCreateFirmSurfacesFailureStep(t *testing.T) {
	failure := &service.BootstrapError{
		Step: service.StepAdminCreation,
		Err:  domain.E(domain.KindConflict, "user_already_exists", "a user with this email or employee id already exists"),
	}
	h := NewFirmHandler(&stubProvisioner{err: failure}, discardLogger())

	w := postFirm(t, h)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["failureStep"] != service.StepAdminCreation {
		t.Errorf("failureStep = %v", body["failureStep"])
	}
}

func TestCreateFirmSessionOutageIs503(t *testing.T) {
	failure := &service.BootstrapError{
		Step: service.StepFirmIDGeneration,
		Err:  fmt.Errorf("%w: pool exhausted", database.ErrUnavailable),
	}
	h := NewFirmHandler(&stubProvisioner{err: failure}, discardLogger())

	w := postFirm(t, h)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["code"] != domain.CodeTransactionUnavailable {
		t.Errorf("code = %v, want %v", body["code"], domain.CodeTransactionUnavailable)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
