package credstore

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/monitoring"
	"github.com/bioplatform/access-gateway/pkg/types"
)

const (
	minPasswordLength = 12
	minUsernameLength = 3
	maxUsernameLength = 64
)

// Policy holds the lockout tuning for credential verification.
type Policy struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
}

// Store verifies and manages credentials. Passwords are stored as bcrypt
// hashes and are never logged or returned.
type Store struct {
	repo       UserRepository
	policy     Policy
	knownRoles map[string]bool
	logger     *logger.Logger
	now        func() time.Time
}

// NewStore creates a credential store. knownRoles bounds the role names a
// registration may claim.
func NewStore(repo UserRepository, policy Policy, knownRoles []string, log *logger.Logger) *Store {
	roles := make(map[string]bool, len(knownRoles))
	for _, r := range knownRoles {
		roles[r] = true
	}
	return &Store{
		repo:       repo,
		policy:     policy,
		knownRoles: roles,
		logger:     log,
		now:        time.Now,
	}
}

// Register validates and creates a new user account.
func (s *Store) Register(ctx context.Context, req *types.RegistrationRequest) (*types.User, error) {
	if err := s.validateRegistration(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &types.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Roles:        req.Roles,
		// A nil slice would reach the NOT NULL array column as SQL NULL.
		AssignedPatients: []string{},
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Verify checks a username/password pair and enforces the lockout policy.
// While an account is locked the failed-attempt counter does not advance,
// so a lockout cannot be extended by further guessing.
func (s *Store) Verify(ctx context.Context, username, password, mfaCode string) (*types.User, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if types.KindOf(err) == types.KindNotFound {
			monitoring.RecordAuthFailure("unknown_user")
			return nil, invalidCredentials()
		}
		return nil, err
	}

	if !user.IsActive {
		monitoring.RecordAuthFailure("inactive")
		return nil, invalidCredentials()
	}

	now := s.now()
	if user.Locked(now) {
		monitoring.RecordAuthFailure("locked")
		s.logger.Security("login_attempt_while_locked", user.ID, map[string]interface{}{
			"locked_until": user.LockedUntil,
		})
		return nil, &types.GatewayError{
			Kind:    types.KindAccountLocked,
			Code:    types.ErrCodeAccountLocked,
			Message: "Account temporarily locked due to repeated failed attempts",
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, s.recordFailure(ctx, user, now)
	}

	if user.MFASecret != "" {
		if !totp.Validate(mfaCode, user.MFASecret) {
			monitoring.RecordAuthFailure("mfa")
			return nil, &types.GatewayError{
				Kind:    types.KindUnauthenticated,
				Code:    types.ErrCodeInvalidMFA,
				Message: "Invalid or missing MFA code",
			}
		}
	}

	if user.FailedAttempts > 0 || user.LockedUntil != nil {
		if err := s.repo.UpdateLoginState(ctx, user.ID, 0, nil); err != nil {
			return nil, err
		}
		user.FailedAttempts = 0
		user.LockedUntil = nil
	}
	return user, nil
}

// EnrollMFA generates and stores a TOTP secret for the user, returning the
// otpauth provisioning URI for the authenticator app.
func (s *Store) EnrollMFA(ctx context.Context, userID, issuer string) (string, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}

	// Authenticator apps expect Base32, not Base64.
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	if err := s.repo.SetMFASecret(ctx, user.ID, secret); err != nil {
		return "", err
	}

	s.logger.Security("mfa_enrolled", user.ID, nil)
	uri := fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(user.Username), secret, url.QueryEscape(issuer))
	return uri, nil
}

// AssignPatients replaces a caregiver's assignment list. The new list takes
// effect on the next token issue.
func (s *Store) AssignPatients(ctx context.Context, userID string, patients []string) error {
	return s.repo.SetAssignedPatients(ctx, userID, patients)
}

// Deactivate disables an account without deleting it.
func (s *Store) Deactivate(ctx context.Context, userID string) error {
	return s.repo.Deactivate(ctx, userID)
}

func (s *Store) recordFailure(ctx context.Context, user *types.User, now time.Time) error {
	attempts := user.FailedAttempts + 1
	var lockedUntil *time.Time
	if attempts >= s.policy.MaxFailedAttempts {
		deadline := now.Add(s.policy.LockoutDuration)
		lockedUntil = &deadline
		s.logger.Security("account_locked", user.ID, map[string]interface{}{
			"failed_attempts": attempts,
			"locked_until":    deadline,
		})
	}

	if err := s.repo.UpdateLoginState(ctx, user.ID, attempts, lockedUntil); err != nil {
		return err
	}

	monitoring.RecordAuthFailure("bad_password")
	return invalidCredentials()
}

func (s *Store) validateRegistration(req *types.RegistrationRequest) error {
	if len(req.Username) < minUsernameLength || len(req.Username) > maxUsernameLength {
		return types.NewValidationError(types.ErrCodeInvalidInput, "Username must be between 3 and 64 characters")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "Invalid email address")
	}
	if len(req.Password) < minPasswordLength {
		return types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if len(req.Roles) == 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, "At least one role is required")
	}
	for _, role := range req.Roles {
		if !s.knownRoles[role] {
			return types.NewValidationError(types.ErrCodeInvalidInput, fmt.Sprintf("Unknown role: %s", role))
		}
	}
	return nil
}

func invalidCredentials() error {
	return &types.GatewayError{
		Kind:    types.KindUnauthenticated,
		Code:    types.ErrCodeInvalidCredentials,
		Message: "Invalid username or password",
	}
}
