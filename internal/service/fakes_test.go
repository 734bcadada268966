package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/notify"
	"github.com/firmdesk/firmdesk/internal/security/audit"
	"github.com/firmdesk/firmdesk/pkg/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNotifier() *notify.Notifier {
	return notify.NewNotifier(&notify.LogSender{Logger: testLogger()}, 32, testLogger())
}

// mockRunner backs the transaction runner with sqlmock so services run their
// real transactional flow without a database.
func mockRunner(t *testing.T) (*database.Runner, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return database.NewRunner(db, testLogger()), mock
}

// expectTxs queues n empty begin/commit pairs for flows that persist through
// the runner without issuing queries the test cares about.
func expectTxs(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

type fakeFirmRepo struct {
	byID      map[string]*domain.Firm
	createErr error
	linked    map[string]string
}

func newFakeFirmRepo() *fakeFirmRepo {
	return &fakeFirmRepo{byID: map[string]*domain.Firm{}, linked: map[string]string{}}
}

func (r *fakeFirmRepo) Create(ctx context.Context, tx *database.Tx, firm *domain.Firm) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.byID[firm.ID] = firm
	return nil
}

func (r *fakeFirmRepo) SetDefaultClient(ctx context.Context, tx *database.Tx, firmID, clientID string) error {
	if _, ok := r.byID[firmID]; !ok {
		return domain.ErrNotFound
	}
	r.linked[firmID] = clientID
	return nil
}

func (r *fakeFirmRepo) UpdateStatus(ctx context.Context, tx *database.Tx, firmID string, status domain.FirmStatus) error {
	firm, ok := r.byID[firmID]
	if !ok {
		return domain.ErrNotFound
	}
	firm.Status = status
	return nil
}

func (r *fakeFirmRepo) GetByID(ctx context.Context, id string) (*domain.Firm, error) {
	if firm, ok := r.byID[id]; ok {
		return firm, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeFirmRepo) GetBySlug(ctx context.Context, slug string) (*domain.Firm, error) {
	for _, firm := range r.byID {
		if firm.Slug == slug {
			return firm, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeFirmRepo) GetByName(ctx context.Context, name string) (*domain.Firm, error) {
	for _, firm := range r.byID {
		if firm.Name == name {
			return firm, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeClientRepo struct {
	byID         map[string]*domain.Client
	createErr    error
	systemExists bool
}

func newFakeClientRepo() *fakeClientRepo {
	return &fakeClientRepo{byID: map[string]*domain.Client{}}
}

func (r *fakeClientRepo) Create(ctx context.Context, tx *database.Tx, client *domain.Client) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.byID[client.ID] = client
	return nil
}

func (r *fakeClientRepo) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	if client, ok := r.byID[id]; ok {
		return client, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeClientRepo) SystemClientExists(ctx context.Context, tx *database.Tx, firmID string) (bool, error) {
	return r.systemExists, nil
}

type fakeUserRepo struct {
	byID      map[string]*domain.User
	createErr error
	updates   int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*domain.User{}}
}

func (r *fakeUserRepo) Create(ctx context.Context, tx *database.Tx, user *domain.User) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.byID[user.ID] = user
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, tx *database.Tx, user *domain.User) error {
	r.updates++
	r.byID[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := r.byID[id]; ok {
		return user, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, user := range r.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) GetByXID(ctx context.Context, firmID, xid string) (*domain.User, error) {
	for _, user := range r.byID {
		if user.FirmID == firmID && user.XID == xid {
			return user, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeUserRepo) GetBySetupTokenHash(ctx context.Context, tokenHash string) (*domain.User, error) {
	for _, user := range r.byID {
		if user.SetupTokenHash != "" && user.SetupTokenHash == tokenHash {
			return user, nil
		}
	}
	return nil, domain.ErrNotFound
}

type ledgerStub struct {
	entries []*domain.AuditEntry
}

func (r *ledgerStub) Append(ctx context.Context, entry *domain.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *ledgerStub) ListByPerformer(ctx context.Context, performedByID string, from, to time.Time) ([]*domain.AuditEntry, error) {
	return nil, nil
}

func (r *ledgerStub) ListByTarget(ctx context.Context, entityType, entityID string) ([]*domain.AuditEntry, error) {
	return nil, nil
}

func (r *ledgerStub) Update(ctx context.Context, entry *domain.AuditEntry) error {
	return domain.ErrAuditImmutable
}

func (r *ledgerStub) Delete(ctx context.Context, id string) error {
	return domain.ErrAuditImmutable
}

func (r *ledgerStub) lastAction() domain.AuditAction {
	if len(r.entries) == 0 {
		return ""
	}
	return r.entries[len(r.entries)-1].ActionType
}

func testRecorder(ledger *ledgerStub) *audit.Recorder {
	return audit.NewRecorder(ledger, testLogger())
}
