package session

import (
	"context"
	"sync"
	"time"

	"github.com/bioplatform/access-gateway/pkg/types"
)

// MemoryStore is an in-process session store for tests and single-node
// development runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*types.Session)}
}

// Insert stores a new session.
func (s *MemoryStore) Insert(_ context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

// Get returns a session by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeSessionNotFound, "Session not found")
	}
	copied := *session
	return &copied, nil
}

// Rotate swaps the refresh hash under the store lock.
func (s *MemoryStore) Rotate(_ context.Context, sessionID, presentedHash, newHash string, now, newExpiry time.Time) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodeSessionNotFound, "Session not found")
	}
	if !session.Live(now) {
		return nil, sessionNotLive()
	}
	if session.RefreshHash != presentedHash {
		session.Revoked = true
		return nil, tokenReuse(session.UserID)
	}

	session.RefreshHash = newHash
	session.LastRefreshAt = now
	session.ExpiresAt = newExpiry
	copied := *session
	return &copied, nil
}

// Revoke marks a session revoked.
func (s *MemoryStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return types.NewNotFoundError(types.ErrCodeSessionNotFound, "Session not found")
	}
	session.Revoked = true
	return nil
}

// RevokeAllForUser revokes every live session of a user.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked int64
	for _, session := range s.sessions {
		if session.UserID == userID && !session.Revoked {
			session.Revoked = true
			revoked++
		}
	}
	return revoked, nil
}

// ListActiveByUser returns the user's live sessions at now.
func (s *MemoryStore) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []*types.Session
	for _, session := range s.sessions {
		if session.UserID == userID && session.Live(now) {
			copied := *session
			active = append(active, &copied)
		}
	}
	return active, nil
}

// DeleteExpired removes sessions whose expiry has passed.
func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, session := range s.sessions {
		if !session.ExpiresAt.After(before) {
			delete(s.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
