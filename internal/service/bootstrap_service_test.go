package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/repository"
)

type bootstrapFixture struct {
	svc     *FirmBootstrapService
	mock    sqlmock.Sqlmock
	firms   *fakeFirmRepo
	clients *fakeClientRepo
	users   *fakeUserRepo
	ledger  *ledgerStub
}

func newBootstrapFixture(t *testing.T) *bootstrapFixture {
	t.Helper()
	runner, mock := mockRunner(t)
	f := &bootstrapFixture{
		mock:    mock,
		firms:   newFakeFirmRepo(),
		clients: newFakeClientRepo(),
		users:   newFakeUserRepo(),
		ledger:  &ledgerStub{},
	}
	f.svc = NewFirmBootstrapService(
		runner, f.firms, f.clients, f.users,
		repository.NewSequenceGenerator(testLogger()),
		testNotifier(), testRecorder(f.ledger),
		"ops@firmdesk.test", testLogger(),
	)
	return f
}

// expectSequences queues the three identifier allocations of one bootstrap in
// order, each returning the given high-water mark.
func (f *bootstrapFixture) expectSequences(firmHigh, clientHigh, xidHigh int) {
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`SUBSTRING\(firm_id`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(firmHigh))
	f.mock.ExpectQuery(`SUBSTRING\(client_id`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(clientHigh))
	f.mock.ExpectQuery(`SUBSTRING\(xid`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(xidHigh))
	f.mock.ExpectCommit()
}

func validInput() CreateFirmInput {
	return CreateFirmInput{
		Name:        "Acme Legal",
		AdminName:   "Jo Admin",
		AdminEmail:  "jo@acme.test",
		RequestedBy: "superadmin",
	}
}

func TestCreateFirmProvisionsFullHierarchy(t *testing.T) {
	f := newBootstrapFixture(t)
	f.expectSequences(0, 0, 0)

	result, err := f.svc.CreateFirm(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateFirm: %v", err)
	}

	if result.Firm.FirmID != "FIRM001" {
		t.Errorf("firm id = %q", result.Firm.FirmID)
	}
	if result.Firm.Slug != "acme-legal" {
		t.Errorf("slug = %q", result.Firm.Slug)
	}
	if result.Firm.BootstrapStatus != domain.BootstrapComplete {
		t.Errorf("bootstrap status = %q", result.Firm.BootstrapStatus)
	}

	if result.DefaultClient.ClientID != "C000001" {
		t.Errorf("client id = %q", result.DefaultClient.ClientID)
	}
	if !result.DefaultClient.IsSystemClient || !result.DefaultClient.IsInternal {
		t.Error("default client not marked as the system client")
	}
	if result.Firm.DefaultClientID != result.DefaultClient.ID {
		t.Error("firm not linked to its default client")
	}
	if f.firms.linked[result.Firm.ID] != result.DefaultClient.ID {
		t.Error("default-client link not persisted")
	}

	admin := result.DefaultAdmin
	if admin.XID != "X000001" {
		t.Errorf("admin xid = %q", admin.XID)
	}
	if admin.Role != domain.RoleAdmin || !admin.MustSetPassword || admin.PasswordSet {
		t.Errorf("admin state = %+v", admin)
	}
	if admin.DefaultClientID != result.DefaultClient.ID {
		t.Error("admin not scoped to the default client")
	}
	if result.SetupToken == "" {
		t.Error("setup token not returned")
	}
	if admin.SetupTokenHash == result.SetupToken {
		t.Error("setup token stored in the clear")
	}

	if f.ledger.lastAction() != domain.AuditFirmCreated {
		t.Errorf("audit action = %q", f.ledger.lastAction())
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateFirmContinuesSequences(t *testing.T) {
	f := newBootstrapFixture(t)
	f.expectSequences(12, 0, 0)

	result, err := f.svc.CreateFirm(context.Background(), validInput())
	if err != nil {
		t.Fatalf("CreateFirm: %v", err)
	}
	if result.Firm.FirmID != "FIRM013" {
		t.Errorf("firm id = %q", result.Firm.FirmID)
	}
}

func TestCreateFirmRollsBackWhenAdminCreationFails(t *testing.T) {
	f := newBootstrapFixture(t)
	f.users.createErr = errors.New("insert failed")

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`SUBSTRING\(firm_id`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	f.mock.ExpectQuery(`SUBSTRING\(client_id`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	f.mock.ExpectQuery(`SUBSTRING\(xid`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	f.mock.ExpectRollback()

	_, err := f.svc.CreateFirm(context.Background(), validInput())
	var be *BootstrapError
	if !errors.As(err, &be) {
		t.Fatalf("expected BootstrapError, got %v", err)
	}
	if be.Step != StepAdminCreation {
		t.Errorf("step = %q", be.Step)
	}
	if f.ledger.lastAction() != domain.AuditFirmCreationFailed {
		t.Errorf("audit action = %q", f.ledger.lastAction())
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateFirmRollsBackWhenFirmIDGenerationFails(t *testing.T) {
	f := newBootstrapFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`SUBSTRING\(firm_id`).WillReturnError(errors.New("timeout"))
	f.mock.ExpectRollback()

	_, err := f.svc.CreateFirm(context.Background(), validInput())
	var be *BootstrapError
	if !errors.As(err, &be) || be.Step != StepFirmIDGeneration {
		t.Fatalf("expected failure at %s, got %v", StepFirmIDGeneration, err)
	}
	if len(f.firms.byID) != 0 {
		t.Error("firm persisted despite rollback")
	}
}

func TestCreateFirmRetryIsIdempotent(t *testing.T) {
	f := newBootstrapFixture(t)
	f.expectSequences(0, 0, 0)

	first, err := f.svc.CreateFirm(context.Background(), validInput())
	if err != nil {
		t.Fatalf("first CreateFirm: %v", err)
	}

	// The retry must not open a transaction or allocate identifiers.
	second, err := f.svc.CreateFirm(context.Background(), validInput())
	if err != nil {
		t.Fatalf("retry CreateFirm: %v", err)
	}
	if !second.Idempotent {
		t.Error("retry not marked idempotent")
	}
	if second.Firm.ID != first.Firm.ID || second.DefaultAdmin.ID != first.DefaultAdmin.ID {
		t.Error("retry returned a different hierarchy")
	}
	if second.SetupToken != "" {
		t.Error("setup token re-issued on retry")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateFirmEmailCollisionIsConflict(t *testing.T) {
	f := newBootstrapFixture(t)
	f.expectSequences(0, 0, 0)

	if _, err := f.svc.CreateFirm(context.Background(), validInput()); err != nil {
		t.Fatalf("first CreateFirm: %v", err)
	}

	in := validInput()
	in.Name = "Globex Legal"
	_, err := f.svc.CreateFirm(context.Background(), in)
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if de.Code != "admin_email_in_use" {
		t.Errorf("code = %q", de.Code)
	}
}

func TestCreateFirmValidation(t *testing.T) {
	f := newBootstrapFixture(t)

	cases := []struct {
		name  string
		in    CreateFirmInput
		field string
	}{
		{"missing name", CreateFirmInput{AdminName: "Jo", AdminEmail: "jo@acme.test"}, "name"},
		{"missing admin name", CreateFirmInput{Name: "Acme", AdminEmail: "jo@acme.test"}, "adminName"},
		{"bad email", CreateFirmInput{Name: "Acme", AdminName: "Jo", AdminEmail: "not-an-email"}, "adminEmail"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateFirm(context.Background(), tc.in)
			var de *domain.Error
			if !errors.As(err, &de) || de.Kind != domain.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if de.Field != tc.field {
				t.Errorf("field = %q, want %q", de.Field, tc.field)
			}
		})
	}
}

func TestSetFirmStatusSuspendsAndAudits(t *testing.T) {
	f := newBootstrapFixture(t)
	f.firms.byID["uuid-1"] = &domain.Firm{ID: "uuid-1", FirmID: "FIRM001", Status: domain.FirmActive}
	expectTxs(f.mock, 1)

	firm, err := f.svc.SetFirmStatus(context.Background(), "uuid-1", domain.FirmSuspended, "superadmin")
	if err != nil {
		t.Fatalf("SetFirmStatus: %v", err)
	}
	if firm.Status != domain.FirmSuspended {
		t.Errorf("status = %q", firm.Status)
	}
	if f.ledger.lastAction() != domain.AuditFirmStatusChanged {
		t.Errorf("audit action = %q", f.ledger.lastAction())
	}
}

func TestSetFirmStatusNoopWhenUnchanged(t *testing.T) {
	f := newBootstrapFixture(t)
	f.firms.byID["uuid-1"] = &domain.Firm{ID: "uuid-1", Status: domain.FirmActive}

	// No transaction expected; a same-status request writes nothing.
	if _, err := f.svc.SetFirmStatus(context.Background(), "uuid-1", domain.FirmActive, "superadmin"); err != nil {
		t.Fatalf("SetFirmStatus: %v", err)
	}
	if len(f.ledger.entries) != 0 {
		t.Error("no-op status change was audited")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSetFirmStatusRejectsUnknownStatus(t *testing.T) {
	f := newBootstrapFixture(t)
	_, err := f.svc.SetFirmStatus(context.Background(), "uuid-1", domain.FirmStatus("DELETED"), "superadmin")
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddAdminAllocatesXIDWhenEmpty(t *testing.T) {
	f := newBootstrapFixture(t)
	f.firms.byID["uuid-1"] = &domain.Firm{
		ID: "uuid-1", FirmID: "FIRM001",
		DefaultClientID: "client-1", BootstrapStatus: domain.BootstrapComplete,
	}

	f.mock.ExpectBegin()
	f.mock.ExpectQuery(`SUBSTRING\(xid`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(41))
	f.mock.ExpectCommit()

	admin, token, err := f.svc.AddAdmin(context.Background(), AddAdminInput{
		FirmID: "uuid-1", Name: "Sam Admin", Email: "sam@acme.test", RequestedBy: "superadmin",
	})
	if err != nil {
		t.Fatalf("AddAdmin: %v", err)
	}
	if admin.XID != "X000042" {
		t.Errorf("xid = %q", admin.XID)
	}
	if token == "" {
		t.Error("setup token not returned")
	}
	if admin.DefaultClientID != "client-1" {
		t.Errorf("default client = %q", admin.DefaultClientID)
	}
	if f.ledger.lastAction() != domain.AuditAdminAdded {
		t.Errorf("audit action = %q", f.ledger.lastAction())
	}
}

func TestAddAdminRequiresCompletedBootstrap(t *testing.T) {
	f := newBootstrapFixture(t)
	f.firms.byID["uuid-1"] = &domain.Firm{ID: "uuid-1", BootstrapStatus: domain.BootstrapPending}

	_, _, err := f.svc.AddAdmin(context.Background(), AddAdminInput{
		FirmID: "uuid-1", Name: "Sam", Email: "sam@acme.test",
	})
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Acme Legal", "acme-legal"},
		{"  Smith & Jones, LLP  ", "smith-jones-llp"},
		{"Already-Slugged", "already-slugged"},
		{"Ümlauts GmbH", "mlauts-gmbh"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
