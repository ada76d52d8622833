package credstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioplatform/access-gateway/pkg/database"
	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

func newMockRepo(t *testing.T) (*PostgresUserRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := database.NewFromSQL(sqlDB)
	return NewPostgresUserRepository(db, logger.New("error")), mock
}

func userRows(u *types.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "username", "email", "password_hash", "roles", "assigned_patients",
		"mfa_secret", "failed_attempts", "locked_until", "is_active", "created_at", "updated_at",
	}).AddRow(
		u.ID, u.Username, u.Email, u.PasswordHash, "{physician}", "{}",
		u.MFASecret, u.FailedAttempts, u.LockedUntil, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
}

func TestPostgresCreate_DuplicateMapsToUsernameTaken(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

	err := repo.Create(context.Background(), &types.User{
		ID:       "u1",
		Username: "drsmith",
		Email:    "smith@hospital.example",
		Roles:    []string{"physician"},
	})

	assert.Equal(t, types.KindUsernameTaken, types.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreate_NilAssignmentsEncodeAsEmptyArray(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	// The column is NOT NULL; a nil slice must reach the driver as '{}'.
	mock.ExpectExec("INSERT INTO users").
		WithArgs("u1", "drsmith", "smith@hospital.example", "$2a$10$hash",
			sqlmock.AnyArg(), "{}", "", 0, true, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &types.User{
		ID:           "u1",
		Username:     "drsmith",
		Email:        "smith@hospital.example",
		PasswordHash: "$2a$10$hash",
		Roles:        []string{"physician"},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetAssignedPatients_NilBecomesEmptyArray(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE users SET assigned_patients").
		WithArgs("{}", sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetAssignedPatients(context.Background(), "u1", nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByUsername(t *testing.T) {
	repo, mock := newMockRepo(t)

	now := time.Now()
	want := &types.User{
		ID:           "u1",
		Username:     "drsmith",
		Email:        "smith@hospital.example",
		PasswordHash: "$2a$10$hash",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("drsmith").
		WillReturnRows(userRows(want))

	got, err := repo.GetByUsername(context.Background(), "drsmith")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, []string{"physician"}, got.Roles)
	assert.Nil(t, got.LockedUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByUsername_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByUsername(context.Background(), "ghost")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestPostgresUpdateLoginState(t *testing.T) {
	repo, mock := newMockRepo(t)

	deadline := time.Now().Add(15 * time.Minute)
	mock.ExpectExec("UPDATE users SET failed_attempts").
		WithArgs(5, &deadline, sqlmock.AnyArg(), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateLoginState(context.Background(), "u1", 5, &deadline)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeactivate_MissingUser(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE users SET is_active").
		WithArgs(sqlmock.AnyArg(), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Deactivate(context.Background(), "ghost")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}
