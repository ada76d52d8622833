package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bioplatform/access-gateway/pkg/database"
	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// PostgresStore persists sessions in PostgreSQL. Rotation runs under a row
// lock so concurrent refreshes of the same session serialize.
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore creates a new session store.
func NewPostgresStore(db *database.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: log}
}

const sessionColumns = `id, user_id, origin, refresh_hash, issued_at, expires_at, last_refresh_at, revoked`

// Insert stores a new session.
func (s *PostgresStore) Insert(ctx context.Context, session *types.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, origin, refresh_hash, issued_at, expires_at, last_refresh_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Origin,
		session.RefreshHash,
		session.IssuedAt,
		session.ExpiresAt,
		session.LastRefreshAt,
		session.Revoked,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// Rotate swaps the refresh hash under a row lock. A presented hash that does
// not match the stored one means an old refresh token was replayed; the
// session is revoked in the same transaction.
func (s *PostgresStore) Rotate(ctx context.Context, sessionID, presentedHash, newHash string, now, newExpiry time.Time) (*types.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rotation: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1 FOR UPDATE`
	session, err := s.scanOne(tx.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return nil, err
	}

	if !session.Live(now) {
		return nil, sessionNotLive()
	}

	if session.RefreshHash != presentedHash {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET revoked = TRUE WHERE id = $1`, sessionID); err != nil {
			return nil, fmt.Errorf("failed to revoke session on reuse: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit reuse revocation: %w", err)
		}
		s.logger.Security("session_revoked_on_reuse", session.UserID, map[string]interface{}{
			"session_id": sessionID,
		})
		return nil, tokenReuse(session.UserID)
	}

	update := `UPDATE sessions SET refresh_hash = $1, last_refresh_at = $2, expires_at = $3 WHERE id = $4`
	if _, err := tx.ExecContext(ctx, update, newHash, now, newExpiry, sessionID); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh hash: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rotation: %w", err)
	}

	session.RefreshHash = newHash
	session.LastRefreshAt = now
	session.ExpiresAt = newExpiry
	return session, nil
}

// Revoke marks a session revoked.
func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewNotFoundError(types.ErrCodeSessionNotFound, "Session not found")
	}
	return nil
}

// RevokeAllForUser revokes every live session of a user.
func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE WHERE user_id = $1 AND NOT revoked`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user sessions: %w", err)
	}
	return result.RowsAffected()
}

// ListActiveByUser returns the user's live sessions at now.
func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*types.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY issued_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var session types.Session
		if err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.Origin,
			&session.RefreshHash,
			&session.IssuedAt,
			&session.ExpiresAt,
			&session.LastRefreshAt,
			&session.Revoked,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) scanOne(row *sql.Row) (*types.Session, error) {
	var session types.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Origin,
		&session.RefreshHash,
		&session.IssuedAt,
		&session.ExpiresAt,
		&session.LastRefreshAt,
		&session.Revoked,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeSessionNotFound, "Session not found")
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &session, nil
}

func sessionNotLive() error {
	return &types.GatewayError{
		Kind:    types.KindUnauthenticated,
		Code:    types.ErrCodeSessionRevoked,
		Message: "Session is no longer valid",
	}
}

// tokenReuse carries the session owner so audit hooks can attribute the
// incident; the subject never serializes to the caller.
func tokenReuse(userID string) error {
	return &types.GatewayError{
		Kind:    types.KindTokenReuseDetected,
		Code:    types.ErrCodeTokenReuse,
		Message: "Refresh token reuse detected; session revoked",
		Subject: userID,
	}
}
