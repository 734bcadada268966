package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/notify"
	"github.com/firmdesk/firmdesk/internal/observability/metrics"
	"github.com/firmdesk/firmdesk/internal/repository"
	"github.com/firmdesk/firmdesk/internal/security/audit"
	"github.com/firmdesk/firmdesk/pkg/database"
)

// Bootstrap step names surfaced to operators when provisioning fails.
const (
	StepFirmIDGeneration   = "firm_id_generation"
	StepFirmCreation       = "firm_creation"
	StepClientIDGeneration = "client_id_generation"
	StepClientCreation     = "client_creation"
	StepDefaultClientLink  = "default_client_link"
	StepAdminIDGeneration  = "admin_id_generation"
	StepAdminCreation      = "admin_creation"
)

// setupTokenTTL is the validity window of the password-setup invite.
const setupTokenTTL = 48 * time.Hour

// BootstrapError identifies which provisioning step failed. The transaction
// is already rolled back by the time the caller sees one.
type BootstrapError struct {
	Step string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("firm bootstrap failed at %s: %v", e.Step, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// CreateFirmInput is the superadmin provisioning request.
type CreateFirmInput struct {
	Name        string
	AdminName   string
	AdminEmail  string
	RequestedBy string
}

// CreateFirmResult is the provisioned hierarchy. SetupToken is only populated
// on a fresh bootstrap; it is never derivable afterwards (only its hash is
// stored).
type CreateFirmResult struct {
	Firm          *domain.Firm
	DefaultClient *domain.Client
	DefaultAdmin  *domain.User
	SetupToken    string
	Idempotent    bool
}

// FirmBootstrapService provisions tenants: one transaction creates the firm,
// its system client and its default admin, with sequential identifiers
// allocated inside the same transaction.
type FirmBootstrapService struct {
	runner   *database.Runner
	firms    domain.FirmRepository
	clients  domain.ClientRepository
	users    domain.UserRepository
	seq      *repository.SequenceGenerator
	notifier *notify.Notifier
	recorder *audit.Recorder
	operator string // notification target for provisioning outcomes
	logger   *slog.Logger
	now      func() time.Time
}

// NewFirmBootstrapService wires the bootstrap service.
func NewFirmBootstrapService(
	runner *database.Runner,
	firms domain.FirmRepository,
	clients domain.ClientRepository,
	users domain.UserRepository,
	seq *repository.SequenceGenerator,
	notifier *notify.Notifier,
	recorder *audit.Recorder,
	operator string,
	logger *slog.Logger,
) *FirmBootstrapService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirmBootstrapService{
		runner:   runner,
		firms:    firms,
		clients:  clients,
		users:    users,
		seq:      seq,
		notifier: notifier,
		recorder: recorder,
		operator: operator,
		logger:   logger,
		now:      time.Now,
	}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// CreateFirm provisions a firm with its system client and default admin. A
// retry of an already-completed identical request returns the existing
// hierarchy with Idempotent=true; an email collision with a different firm is
// a conflict.
func (s *FirmBootstrapService) CreateFirm(ctx context.Context, in CreateFirmInput) (*CreateFirmResult, error) {
	start := s.now()

	if err := validateCreateFirm(in); err != nil {
		return nil, err
	}

	// Duplicate-detection before any transactional work. The admin email is
	// globally unique, so an existing owner tells the two cases apart.
	if existing, err := s.users.GetByEmail(ctx, in.AdminEmail); err == nil {
		return s.resolveDuplicate(ctx, in, existing)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check admin email: %w", err)
	}

	setupToken, setupTokenHash, err := newSetupToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate setup token: %w", err)
	}

	result := &CreateFirmResult{SetupToken: setupToken}

	err = s.runner.Run(ctx, func(ctx context.Context, tx *database.Tx) error {
		firmID, err := s.seq.Next(ctx, tx, repository.FirmScope())
		if err != nil {
			return &BootstrapError{Step: StepFirmIDGeneration, Err: err}
		}

		firm := &domain.Firm{
			ID:              uuid.NewString(),
			FirmID:          firmID,
			Slug:            slugify(in.Name),
			Name:            in.Name,
			Status:          domain.FirmActive,
			BootstrapStatus: domain.BootstrapPending,
		}
		if err := s.firms.Create(ctx, tx, firm); err != nil {
			return &BootstrapError{Step: StepFirmCreation, Err: err}
		}

		// Defends against re-entrant bootstrap of the same firm.
		exists, err := s.clients.SystemClientExists(ctx, tx, firm.ID)
		if err != nil {
			return &BootstrapError{Step: StepClientCreation, Err: err}
		}
		if exists {
			return &BootstrapError{
				Step: StepClientCreation,
				Err:  domain.E(domain.KindConflict, domain.CodeSystemClientImmutable, "firm already has a system client"),
			}
		}

		clientID, err := s.seq.Next(ctx, tx, repository.ClientScope(firm.ID))
		if err != nil {
			return &BootstrapError{Step: StepClientIDGeneration, Err: err}
		}

		client := &domain.Client{
			ID:             uuid.NewString(),
			ClientID:       clientID,
			FirmID:         firm.ID,
			BusinessName:   firm.Name,
			IsSystemClient: true,
			IsInternal:     true,
			IsActive:       true,
		}
		if err := s.clients.Create(ctx, tx, client); err != nil {
			return &BootstrapError{Step: StepClientCreation, Err: err}
		}

		if err := s.firms.SetDefaultClient(ctx, tx, firm.ID, client.ID); err != nil {
			return &BootstrapError{Step: StepDefaultClientLink, Err: err}
		}
		firm.DefaultClientID = client.ID
		firm.BootstrapStatus = domain.BootstrapComplete

		xid, err := s.seq.Next(ctx, tx, repository.EmployeeScope(firm.ID))
		if err != nil {
			return &BootstrapError{Step: StepAdminIDGeneration, Err: err}
		}

		admin := &domain.User{
			ID:                 uuid.NewString(),
			XID:                xid,
			FirmID:             firm.ID,
			DefaultClientID:    client.ID,
			Role:               domain.RoleAdmin,
			Name:               in.AdminName,
			Email:              in.AdminEmail,
			Status:             domain.UserInvited,
			PasswordSet:        false,
			MustSetPassword:    true,
			MustChangePassword: true,
			SetupTokenHash:     setupTokenHash,
			SetupTokenExpires:  s.now().Add(setupTokenTTL),
			IsActive:           true,
		}
		if err := s.users.Create(ctx, tx, admin); err != nil {
			return &BootstrapError{Step: StepAdminCreation, Err: err}
		}

		result.Firm = firm
		result.DefaultClient = client
		result.DefaultAdmin = admin
		return nil
	})
	if err != nil {
		s.handleBootstrapFailure(ctx, in, err)
		metrics.ObserveBootstrap("failure", s.now().Sub(start))
		return nil, err
	}

	metrics.ObserveBootstrap("success", s.now().Sub(start))
	metrics.IncrementActiveFirms()

	// Committed. Notifications are best-effort and never affect the outcome.
	s.notifier.Enqueue(notify.FirmCreated(s.operator, result.Firm.Name, result.Firm.FirmID))
	s.notifier.Enqueue(notify.PasswordSetup(result.DefaultAdmin.Email, result.DefaultAdmin.Name, setupToken))

	s.recorder.Record(ctx, &domain.AuditEntry{
		ActionType:       domain.AuditFirmCreated,
		Description:      fmt.Sprintf("firm %s bootstrapped with client %s and admin %s", result.Firm.FirmID, result.DefaultClient.ClientID, result.DefaultAdmin.XID),
		PerformedBy:      in.RequestedBy,
		TargetEntityType: "firm",
		TargetEntityID:   result.Firm.ID,
		Metadata: map[string]string{
			"firm_id":   result.Firm.FirmID,
			"client_id": result.DefaultClient.ClientID,
			"admin_xid": result.DefaultAdmin.XID,
		},
	})

	return result, nil
}

// resolveDuplicate distinguishes a retry of an already-completed bootstrap
// from an email collision with a different firm.
func (s *FirmBootstrapService) resolveDuplicate(ctx context.Context, in CreateFirmInput, existing *domain.User) (*CreateFirmResult, error) {
	conflict := domain.E(domain.KindConflict, "admin_email_in_use", "admin email is already in use")

	if existing.FirmID == "" || existing.Role != domain.RoleAdmin {
		return nil, conflict
	}
	firm, err := s.firms.GetByID(ctx, existing.FirmID)
	if err != nil {
		return nil, conflict
	}
	// Same logical request only when the whole tuple matches and the earlier
	// bootstrap actually finished.
	if firm.BootstrapStatus != domain.BootstrapComplete || firm.Name != in.Name || existing.Name != in.AdminName {
		return nil, conflict
	}
	client, err := s.clients.GetByID(ctx, firm.DefaultClientID)
	if err != nil {
		return nil, conflict
	}

	s.logger.Info("duplicate firm bootstrap resolved idempotently",
		slog.String("firm_id", firm.FirmID),
		slog.String("admin_email", in.AdminEmail),
	)
	return &CreateFirmResult{
		Firm:          firm,
		DefaultClient: client,
		DefaultAdmin:  existing,
		Idempotent:    true,
	}, nil
}

func (s *FirmBootstrapService) handleBootstrapFailure(ctx context.Context, in CreateFirmInput, err error) {
	step := "unknown"
	var be *BootstrapError
	if errors.As(err, &be) {
		step = be.Step
	}
	metrics.ObserveBootstrapFailure(step)
	s.logger.Error("firm bootstrap failed",
		slog.String("firm_name", in.Name),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)

	// Operator notification and audit are both best-effort here.
	s.notifier.Enqueue(notify.BootstrapFailed(s.operator, in.Name, step))
	s.recorder.Record(ctx, &domain.AuditEntry{
		ActionType:       domain.AuditFirmCreationFailed,
		Description:      fmt.Sprintf("bootstrap of firm %q rolled back at step %s", in.Name, step),
		PerformedBy:      in.RequestedBy,
		TargetEntityType: "firm",
		TargetEntityID:   "",
		Metadata:         map[string]string{"step": step},
	})
}

// SetFirmStatus suspends or reactivates a firm.
func (s *FirmBootstrapService) SetFirmStatus(ctx context.Context, firmID string, status domain.FirmStatus, requestedBy string) (*domain.Firm, error) {
	if status != domain.FirmActive && status != domain.FirmSuspended {
		return nil, domain.E(domain.KindValidation, domain.CodeValidationError, "status must be ACTIVE or SUSPENDED").WithField("status")
	}
	firm, err := s.firms.GetByID(ctx, firmID)
	if err != nil {
		return nil, err
	}
	if firm.Status == status {
		return firm, nil
	}

	err = s.runner.Run(ctx, func(ctx context.Context, tx *database.Tx) error {
		return s.firms.UpdateStatus(ctx, tx, firm.ID, status)
	})
	if err != nil {
		return nil, err
	}

	if status == domain.FirmSuspended {
		metrics.DecrementActiveFirms()
	} else {
		metrics.IncrementActiveFirms()
	}

	s.recorder.Record(ctx, &domain.AuditEntry{
		ActionType:       domain.AuditFirmStatusChanged,
		Description:      fmt.Sprintf("firm %s status changed %s -> %s", firm.FirmID, firm.Status, status),
		PerformedBy:      requestedBy,
		TargetEntityType: "firm",
		TargetEntityID:   firm.ID,
		Metadata:         map[string]string{"from": string(firm.Status), "to": string(status)},
	})

	firm.Status = status
	return firm, nil
}

// AddAdminInput is the manual admin-creation request, independent of
// bootstrap.
type AddAdminInput struct {
	FirmID      string
	Name        string
	Email       string
	XID         string // optional; allocated when empty
	RequestedBy string
}

// AddAdmin creates an additional admin for an existing firm, invited through
// the same password-setup flow as the bootstrap admin.
func (s *FirmBootstrapService) AddAdmin(ctx context.Context, in AddAdminInput) (*domain.User, string, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, "", domain.E(domain.KindValidation, domain.CodeValidationError, "name is required").WithField("name")
	}
	if !emailPattern.MatchString(in.Email) {
		return nil, "", domain.E(domain.KindValidation, domain.CodeValidationError, "a valid email is required").WithField("email")
	}

	firm, err := s.firms.GetByID(ctx, in.FirmID)
	if err != nil {
		return nil, "", err
	}
	if firm.BootstrapStatus != domain.BootstrapComplete {
		return nil, "", domain.E(domain.KindConflict, "firm_not_bootstrapped", "firm bootstrap has not completed")
	}

	setupToken, setupTokenHash, err := newSetupToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate setup token: %w", err)
	}

	admin := &domain.User{
		ID:                 uuid.NewString(),
		XID:                in.XID,
		FirmID:             firm.ID,
		DefaultClientID:    firm.DefaultClientID,
		Role:               domain.RoleAdmin,
		Name:               in.Name,
		Email:              in.Email,
		Status:             domain.UserInvited,
		MustSetPassword:    true,
		MustChangePassword: true,
		SetupTokenHash:     setupTokenHash,
		SetupTokenExpires:  s.now().Add(setupTokenTTL),
		IsActive:           true,
	}

	err = s.runner.Run(ctx, func(ctx context.Context, tx *database.Tx) error {
		if admin.XID == "" {
			xid, err := s.seq.Next(ctx, tx, repository.EmployeeScope(firm.ID))
			if err != nil {
				return &BootstrapError{Step: StepAdminIDGeneration, Err: err}
			}
			admin.XID = xid
		}
		if err := s.users.Create(ctx, tx, admin); err != nil {
			return &BootstrapError{Step: StepAdminCreation, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	s.notifier.Enqueue(notify.PasswordSetup(admin.Email, admin.Name, setupToken))
	s.recorder.Record(ctx, &domain.AuditEntry{
		ActionType:       domain.AuditAdminAdded,
		Description:      fmt.Sprintf("admin %s added to firm %s", admin.XID, firm.FirmID),
		PerformedBy:      in.RequestedBy,
		TargetEntityType: "user",
		TargetEntityID:   admin.ID,
	})

	return admin, setupToken, nil
}

func validateCreateFirm(in CreateFirmInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.E(domain.KindValidation, domain.CodeValidationError, "firm name is required").WithField("name")
	}
	if strings.TrimSpace(in.AdminName) == "" {
		return domain.E(domain.KindValidation, domain.CodeValidationError, "admin name is required").WithField("adminName")
	}
	if !emailPattern.MatchString(in.AdminEmail) {
		return domain.E(domain.KindValidation, domain.CodeValidationError, "a valid admin email is required").WithField("adminEmail")
	}
	return nil
}

// newSetupToken returns a random 256-bit token and its stored hash.
func newSetupToken() (token, tokenHash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(token))
	return token, hex.EncodeToString(sum[:]), nil
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
