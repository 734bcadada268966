package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/notify"
	"github.com/firmdesk/firmdesk/internal/security/audit"
	"github.com/firmdesk/firmdesk/internal/security/auth"
	"github.com/firmdesk/firmdesk/pkg/database"
)

// Login throttling and password lifecycle defaults.
const (
	maxFailedLogins   = 5
	loginLockDuration = 15 * time.Minute
	passwordMaxAge    = 90 * 24 * time.Hour
	minPasswordLength = 8
)

var errInvalidCredentials = domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "invalid credentials")

// AuthService handles login, token refresh and the password lifecycle.
type AuthService struct {
	runner   *database.Runner
	users    domain.UserRepository
	firms    domain.FirmRepository
	tokens   *auth.TokenManager
	notifier *notify.Notifier
	recorder *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time

	// Platform superadmin credentials. The superadmin is configured, not a
	// database row, and authenticates against a pre-computed bcrypt hash.
	superadminEmail string
	superadminHash  string
}

// NewAuthService wires the auth service.
func NewAuthService(
	runner *database.Runner,
	users domain.UserRepository,
	firms domain.FirmRepository,
	tokens *auth.TokenManager,
	notifier *notify.Notifier,
	recorder *audit.Recorder,
	superadminEmail, superadminHash string,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		runner:          runner,
		users:           users,
		firms:           firms,
		tokens:          tokens,
		notifier:        notifier,
		recorder:        recorder,
		logger:          logger,
		now:             time.Now,
		superadminEmail: strings.ToLower(superadminEmail),
		superadminHash:  superadminHash,
	}
}

// LoginInput identifies the caller by email or employee identifier within a
// firm. FirmSlug is empty only for the platform superadmin.
type LoginInput struct {
	Identifier string
	FirmSlug   string
	Password   string
}

// LoginResult carries the issued token pair.
type LoginResult struct {
	AccessToken        string    `json:"accessToken"`
	RefreshToken       string    `json:"refreshToken"`
	ExpiresAt          time.Time `json:"expiresAt"`
	TokenType          string    `json:"tokenType"`
	MustChangePassword bool      `json:"mustChangePassword"`
	UserID             string    `json:"userId"`
	Role               domain.Role `json:"role"`
	FirmSlug           string    `json:"firmSlug,omitempty"`
}

// Login authenticates a user. Lookup failures, wrong passwords and unknown
// firms all collapse to the same rejection so the endpoint is not an account
// oracle. Repeated failures lock the account.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if in.Identifier == "" || in.Password == "" {
		return nil, domain.E(domain.KindValidation, domain.CodeValidationError, "identifier and password are required")
	}

	if in.FirmSlug == "" {
		return s.loginSuperadmin(in)
	}

	firm, err := s.firms.GetBySlug(ctx, in.FirmSlug)
	if err != nil {
		s.logger.Info("login attempt against unknown firm", slog.String("firm_slug", in.FirmSlug))
		return nil, errInvalidCredentials
	}

	user, err := s.lookupUser(ctx, firm.ID, in.Identifier)
	if err != nil {
		s.logger.Info("login attempt for unknown identifier", slog.String("firm_slug", in.FirmSlug))
		return nil, errInvalidCredentials
	}

	now := s.now()
	switch {
	case !user.IsActive:
		return nil, domain.E(domain.KindAuthentication, domain.CodeAccountDeactivated, "account is deactivated")
	case user.Locked(now):
		return nil, domain.E(domain.KindAuthentication, domain.CodeAccountLocked, "account is temporarily locked")
	case firm.Status == domain.FirmSuspended:
		return nil, domain.E(domain.KindAuthorization, domain.CodeFirmSuspended, "firm is suspended")
	case !user.PasswordSet:
		return nil, domain.E(domain.KindAuthentication, domain.CodePasswordSetupRequired, "password setup required")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		s.recordFailedLogin(ctx, user, now)
		return nil, errInvalidCredentials
	}

	// Successful login resets the failure counter and lapses stale passwords
	// into the forced-change state.
	user.FailedLoginAttempts = 0
	user.LockUntil = time.Time{}
	if !user.PasswordExpiresAt.IsZero() && now.After(user.PasswordExpiresAt) {
		user.MustChangePassword = true
	}
	if err := s.persistUser(ctx, user); err != nil {
		s.logger.Error("failed to update login state", slog.String("error", err.Error()))
	}

	id := identityOf(user, firm)
	access, expiresAt, err := s.tokens.IssueAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, _, err := s.tokens.IssueRefreshToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("firm_slug", firm.Slug),
		slog.String("role", string(user.Role)),
	)

	return &LoginResult{
		AccessToken:        access,
		RefreshToken:       refresh,
		ExpiresAt:          expiresAt,
		TokenType:          "Bearer",
		MustChangePassword: user.MustChangePassword,
		UserID:             user.ID,
		Role:               user.Role,
		FirmSlug:           firm.Slug,
	}, nil
}

func (s *AuthService) loginSuperadmin(in LoginInput) (*LoginResult, error) {
	if s.superadminEmail == "" || strings.ToLower(in.Identifier) != s.superadminEmail {
		return nil, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.superadminHash), []byte(in.Password)); err != nil {
		return nil, errInvalidCredentials
	}

	id := auth.Identity{UserID: auth.SuperadminSubject, Role: domain.RoleSuperAdmin}
	access, expiresAt, err := s.tokens.IssueAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, _, err := s.tokens.IssueRefreshToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.logger.Info("superadmin logged in")
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
		UserID:       auth.SuperadminSubject,
		Role:         domain.RoleSuperAdmin,
	}, nil
}

// Refresh exchanges a valid refresh token for a fresh pair. The user's
// current state is re-checked so deactivation and suspension take effect on
// the next refresh at the latest.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, domain.E(domain.KindAuthentication, domain.CodeTokenExpired, "refresh token expired")
		}
		return nil, domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "invalid refresh token")
	}

	var id auth.Identity
	var mustChange bool
	if claims.IsSuperadmin() {
		id = auth.Identity{UserID: auth.SuperadminSubject, Role: domain.RoleSuperAdmin}
	} else {
		user, err := s.users.GetByID(ctx, claims.Subject)
		if err != nil {
			return nil, domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "invalid refresh token")
		}
		if !user.IsActive {
			return nil, domain.E(domain.KindAuthentication, domain.CodeAccountDeactivated, "account is deactivated")
		}
		firm, err := s.firms.GetByID(ctx, user.FirmID)
		if err != nil {
			return nil, domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "invalid refresh token")
		}
		if firm.Status == domain.FirmSuspended {
			return nil, domain.E(domain.KindAuthorization, domain.CodeFirmSuspended, "firm is suspended")
		}
		id = identityOf(user, firm)
		mustChange = user.MustChangePassword
	}

	access, expiresAt, err := s.tokens.IssueAccessToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, _, err := s.tokens.IssueRefreshToken(id)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return &LoginResult{
		AccessToken:        access,
		RefreshToken:       refresh,
		ExpiresAt:          expiresAt,
		TokenType:          "Bearer",
		MustChangePassword: mustChange,
		UserID:             id.UserID,
		Role:               id.Role,
		FirmSlug:           id.FirmSlug,
	}, nil
}

// SetPassword completes onboarding or a reset using the mailed setup token.
func (s *AuthService) SetPassword(ctx context.Context, setupToken, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	sum := sha256.Sum256([]byte(setupToken))
	user, err := s.users.GetBySetupTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		return domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "invalid or expired setup token")
	}
	now := s.now()
	if user.SetupTokenExpires.IsZero() || now.After(user.SetupTokenExpires) {
		return domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "invalid or expired setup token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.PasswordSet = true
	user.MustSetPassword = false
	user.MustChangePassword = false
	user.Status = domain.UserActive
	user.SetupTokenHash = ""
	user.SetupTokenExpires = time.Time{}
	user.PasswordExpiresAt = now.Add(passwordMaxAge)
	user.PasswordHistory = appendHistory(user.PasswordHistory, string(hash))
	user.FailedLoginAttempts = 0
	user.LockUntil = time.Time{}

	if err := s.persistUser(ctx, user); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}

	s.logger.Info("password set", slog.String("user_id", user.ID))
	return nil
}

// ChangePassword rotates the password of an authenticated user. Reuse of any
// password in the retained history is rejected.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return domain.E(domain.KindAuthentication, domain.CodeAuthRequired, "current password is incorrect").WithField("currentPassword")
	}
	for _, old := range user.PasswordHistory {
		if bcrypt.CompareHashAndPassword([]byte(old), []byte(newPassword)) == nil {
			return domain.E(domain.KindValidation, "password_recently_used", "new password was used recently").WithField("newPassword")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.MustChangePassword = false
	user.PasswordExpiresAt = s.now().Add(passwordMaxAge)
	user.PasswordHistory = appendHistory(user.PasswordHistory, string(hash))

	if err := s.persistUser(ctx, user); err != nil {
		return fmt.Errorf("failed to save password: %w", err)
	}

	s.logger.Info("password changed", slog.String("user_id", user.ID))
	return nil
}

// RequestPasswordReset issues a fresh setup token for the account and mails
// it. Unknown emails succeed silently.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	token, tokenHash, err := newSetupToken()
	if err != nil {
		return fmt.Errorf("failed to generate setup token: %w", err)
	}
	user.SetupTokenHash = tokenHash
	user.SetupTokenExpires = s.now().Add(setupTokenTTL)

	if err := s.persistUser(ctx, user); err != nil {
		return fmt.Errorf("failed to save setup token: %w", err)
	}

	s.notifier.Enqueue(notify.PasswordSetup(user.Email, user.Name, token))
	return nil
}

// Profile returns the authenticated user's record.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *AuthService) lookupUser(ctx context.Context, firmID, identifier string) (*domain.User, error) {
	if strings.Contains(identifier, "@") {
		user, err := s.users.GetByEmail(ctx, identifier)
		if err != nil {
			return nil, err
		}
		if user.FirmID != firmID {
			return nil, domain.ErrNotFound
		}
		return user, nil
	}
	return s.users.GetByXID(ctx, firmID, strings.ToUpper(identifier))
}

func (s *AuthService) recordFailedLogin(ctx context.Context, user *domain.User, now time.Time) {
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= maxFailedLogins {
		user.LockUntil = now.Add(loginLockDuration)
		user.FailedLoginAttempts = 0
		s.logger.Warn("account locked after repeated login failures",
			slog.String("user_id", user.ID),
			slog.Time("lock_until", user.LockUntil),
		)
		s.recorder.Record(ctx, &domain.AuditEntry{
			ActionType:        domain.AuditLoginLocked,
			Description:       fmt.Sprintf("account %s locked after %d failed logins", user.XID, maxFailedLogins),
			PerformedBySystem: true,
			TargetEntityType:  "user",
			TargetEntityID:    user.ID,
		})
	}
	if err := s.persistUser(ctx, user); err != nil {
		s.logger.Error("failed to record login failure", slog.String("error", err.Error()))
	}
}

func (s *AuthService) persistUser(ctx context.Context, user *domain.User) error {
	return s.runner.Run(ctx, func(ctx context.Context, tx *database.Tx) error {
		return s.users.Update(ctx, tx, user)
	})
}

func identityOf(user *domain.User, firm *domain.Firm) auth.Identity {
	return auth.Identity{
		UserID:          user.ID,
		Role:            user.Role,
		FirmID:          user.FirmID,
		FirmSlug:        firm.Slug,
		DefaultClientID: user.DefaultClientID,
	}
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return domain.E(domain.KindValidation, domain.CodeValidationError,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength)).WithField("newPassword")
	}
	return nil
}

// appendHistory keeps the most recent hashes, bounded by the history limit.
func appendHistory(history []string, hash string) []string {
	history = append(history, hash)
	if len(history) > domain.PasswordHistoryLimit {
		history = history[len(history)-domain.PasswordHistoryLimit:]
	}
	return history
}
