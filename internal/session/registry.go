package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// Store is the session persistence backend.
type Store interface {
	Insert(ctx context.Context, session *types.Session) error
	Get(ctx context.Context, id string) (*types.Session, error)
	// Rotate atomically swaps the refresh hash. Presenting a hash that does
	// not match the current one revokes the session and returns a
	// TokenReuseDetected error.
	Rotate(ctx context.Context, sessionID, presentedHash, newHash string, now, newExpiry time.Time) (*types.Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*types.Session, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AnomalyPolicy tunes concurrent-session detection.
type AnomalyPolicy struct {
	// MaxDistinctOrigins is the number of distinct origins within Window at
	// which a user's concurrent sessions are flagged. Zero disables the check.
	MaxDistinctOrigins int
	Window             time.Duration
}

// AnomalyFunc is called when a user's concurrent sessions look suspicious.
type AnomalyFunc func(ctx context.Context, userID string, origins []string)

// Registry manages the session lifecycle on top of a Store and watches for
// suspicious concurrency patterns at session creation.
type Registry struct {
	store     Store
	policy    AnomalyPolicy
	onAnomaly AnomalyFunc
	logger    *logger.Logger
	now       func() time.Time
}

// NewRegistry creates a session registry.
func NewRegistry(store Store, policy AnomalyPolicy, log *logger.Logger) *Registry {
	return &Registry{
		store:  store,
		policy: policy,
		logger: log,
		now:    time.Now,
	}
}

// OnAnomaly registers the callback invoked from Create when the concurrent
// session policy trips.
func (r *Registry) OnAnomaly(fn AnomalyFunc) {
	r.onAnomaly = fn
}

// Create opens a new session. Detection of suspicious concurrency never
// blocks the login; it only raises the anomaly callback.
func (r *Registry) Create(ctx context.Context, userID, origin, refreshHash string, expiresAt time.Time) (*types.Session, error) {
	now := r.now()
	session := &types.Session{
		ID:            uuid.New().String(),
		UserID:        userID,
		Origin:        origin,
		RefreshHash:   refreshHash,
		IssuedAt:      now,
		ExpiresAt:     expiresAt,
		LastRefreshAt: now,
	}

	if err := r.store.Insert(ctx, session); err != nil {
		return nil, err
	}

	r.checkConcurrency(ctx, userID, now)
	return session, nil
}

// Get returns a session by id.
func (r *Registry) Get(ctx context.Context, id string) (*types.Session, error) {
	return r.store.Get(ctx, id)
}

// Rotate swaps the session's refresh hash and extends its expiry.
func (r *Registry) Rotate(ctx context.Context, sessionID, presentedHash, newHash string, newExpiry time.Time) (*types.Session, error) {
	return r.store.Rotate(ctx, sessionID, presentedHash, newHash, r.now(), newExpiry)
}

// Revoke ends a single session.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	return r.store.Revoke(ctx, id)
}

// RevokeAllForUser ends every session of a user, e.g. on deactivation.
func (r *Registry) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return r.store.RevokeAllForUser(ctx, userID)
}

// ListActive returns the user's live sessions.
func (r *Registry) ListActive(ctx context.Context, userID string) ([]*types.Session, error) {
	return r.store.ListActiveByUser(ctx, userID, r.now())
}

// StartGC deletes sessions that have been expired for at least grace, on a
// fixed sweep interval, until ctx is done. The grace window keeps freshly
// expired sessions queryable long enough for audit correlation.
func (r *Registry) StartGC(ctx context.Context, interval, grace time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.collectExpired(ctx, grace)
			}
		}
	}()
}

func (r *Registry) collectExpired(ctx context.Context, grace time.Duration) {
	deleted, err := r.store.DeleteExpired(ctx, r.now().Add(-grace))
	if err != nil {
		r.logger.WithError(err).Error("Session GC sweep failed")
		return
	}
	if deleted > 0 {
		r.logger.WithField("deleted", deleted).Debug("Session GC sweep complete")
	}
}

func (r *Registry) checkConcurrency(ctx context.Context, userID string, now time.Time) {
	if r.policy.MaxDistinctOrigins <= 0 {
		return
	}

	sessions, err := r.store.ListActiveByUser(ctx, userID, now)
	if err != nil {
		r.logger.WithError(err).Warn("Concurrent session check failed")
		return
	}

	cutoff := now.Add(-r.policy.Window)
	seen := make(map[string]bool)
	for _, s := range sessions {
		if s.IssuedAt.Before(cutoff) {
			continue
		}
		seen[s.Origin] = true
	}
	if len(seen) < r.policy.MaxDistinctOrigins {
		return
	}

	origins := make([]string, 0, len(seen))
	for origin := range seen {
		origins = append(origins, origin)
	}

	r.logger.Security("suspicious_concurrent_sessions", userID, map[string]interface{}{
		"distinct_origins": len(origins),
		"window":           r.policy.Window.String(),
	})
	if r.onAnomaly != nil {
		r.onAnomaly(ctx, userID, origins)
	}
}
