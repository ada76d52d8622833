package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/bioplatform/access-gateway/pkg/database"
	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// UserRepository abstracts user persistence for the credential store.
type UserRepository interface {
	Create(ctx context.Context, user *types.User) error
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByUsername(ctx context.Context, username string) (*types.User, error)
	UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error
	SetAssignedPatients(ctx context.Context, id string, patients []string) error
	SetMFASecret(ctx context.Context, id, secret string) error
	Deactivate(ctx context.Context, id string) error
}

// PostgresUserRepository implements UserRepository on lib/pq.
type PostgresUserRepository struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresUserRepository creates a new user repository.
func NewPostgresUserRepository(db *database.DB, log *logger.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, logger: log}
}

const userColumns = `id, username, email, password_hash, roles, assigned_patients,
		COALESCE(mfa_secret, ''), failed_attempts, locked_until, is_active, created_at, updated_at`

// Create inserts a new user.
func (r *PostgresUserRepository) Create(ctx context.Context, user *types.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, roles, assigned_patients,
			mfa_secret, failed_attempts, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		pq.Array(user.Roles),
		pq.Array(emptyIfNil(user.AssignedPatients)),
		user.MFASecret,
		user.FailedAttempts,
		user.IsActive,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return &types.GatewayError{
				Kind:    types.KindUsernameTaken,
				Code:    types.ErrCodeUsernameTaken,
				Message: "Username or email already registered",
			}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	}).Info("User created")
	return nil
}

// GetByID retrieves a user by id.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username.
func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (*types.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg interface{}) (*types.User, error) {
	var user types.User
	var roles, assigned pq.StringArray
	var lockedUntil sql.NullTime

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&roles,
		&assigned,
		&user.MFASecret,
		&user.FailedAttempts,
		&lockedUntil,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeUserNotFound, "User not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Roles = roles
	user.AssignedPatients = assigned
	if lockedUntil.Valid {
		user.LockedUntil = &lockedUntil.Time
	}
	return &user, nil
}

// UpdateLoginState records the failed-attempt counter and lockout deadline.
func (r *PostgresUserRepository) UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	query := `UPDATE users SET failed_attempts = $1, locked_until = $2, updated_at = $3 WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, failedAttempts, lockedUntil, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update login state: %w", err)
	}
	return r.requireRow(result)
}

// SetAssignedPatients replaces the caregiver's patient assignment list.
func (r *PostgresUserRepository) SetAssignedPatients(ctx context.Context, id string, patients []string) error {
	query := `UPDATE users SET assigned_patients = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, pq.Array(emptyIfNil(patients)), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set assigned patients: %w", err)
	}
	return r.requireRow(result)
}

// SetMFASecret stores the user's TOTP secret.
func (r *PostgresUserRepository) SetMFASecret(ctx context.Context, id, secret string) error {
	query := `UPDATE users SET mfa_secret = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, secret, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set mfa secret: %w", err)
	}
	return r.requireRow(result)
}

// Deactivate soft-deactivates a user. Users are never physically deleted so
// audit records keep resolving to a subject.
func (r *PostgresUserRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE users SET is_active = FALSE, updated_at = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	return r.requireRow(result)
}

// emptyIfNil keeps nil slices from reaching NOT NULL array columns as SQL
// NULL; lib/pq encodes a nil slice as NULL, not as '{}'.
func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func (r *PostgresUserRepository) requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewNotFoundError(types.ErrCodeUserNotFound, "User not found")
	}
	return nil
}
