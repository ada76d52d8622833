package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

func newTestRegistry(policy AnomalyPolicy) *Registry {
	return NewRegistry(NewMemoryStore(), policy, logger.New("error"))
}

func TestCreateAndGet(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{})
	ctx := context.Background()

	session, err := reg.Create(ctx, "u1", "10.0.0.1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)

	got, err := reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "10.0.0.1", got.Origin)
	assert.False(t, got.Revoked)
}

func TestRotate_HappyPath(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{})
	ctx := context.Background()

	session, err := reg.Create(ctx, "u1", "10.0.0.1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	newExpiry := time.Now().Add(2 * time.Hour)
	rotated, err := reg.Rotate(ctx, session.ID, "hash-1", "hash-2", newExpiry)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", rotated.RefreshHash)
	assert.WithinDuration(t, newExpiry, rotated.ExpiresAt, time.Second)
}

func TestRotate_StaleHashRevokesSession(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{})
	ctx := context.Background()

	session, err := reg.Create(ctx, "u1", "10.0.0.1", "hash-1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = reg.Rotate(ctx, session.ID, "hash-1", "hash-2", time.Now().Add(time.Hour))
	require.NoError(t, err)

	// Replaying the original hash is reuse: the session dies, and the error
	// carries the owner so the incident can be attributed.
	_, err = reg.Rotate(ctx, session.ID, "hash-1", "hash-3", time.Now().Add(time.Hour))
	assert.Equal(t, types.KindTokenReuseDetected, types.KindOf(err))
	assert.Equal(t, "u1", types.SubjectOf(err))

	got, err := reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	// Even the legitimate current hash is dead after revocation.
	_, err = reg.Rotate(ctx, session.ID, "hash-2", "hash-4", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthenticated, types.KindOf(err))
}

func TestRotate_ExpiredSessionRejected(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{})
	ctx := context.Background()

	session, err := reg.Create(ctx, "u1", "10.0.0.1", "hash-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = reg.Rotate(ctx, session.ID, "hash-1", "hash-2", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, types.KindUnauthenticated, types.KindOf(err))
}

func TestRevokeAllForUser(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := reg.Create(ctx, "u1", "10.0.0.1", "hash", time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	other, err := reg.Create(ctx, "u2", "10.0.0.2", "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)

	revoked, err := reg.RevokeAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), revoked)

	active, err := reg.ListActive(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := reg.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.Revoked)
}

func TestAnomalyDetection_DistinctOrigins(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{MaxDistinctOrigins: 3, Window: time.Hour})
	ctx := context.Background()

	var flaggedUser string
	var flaggedOrigins []string
	reg.OnAnomaly(func(_ context.Context, userID string, origins []string) {
		flaggedUser = userID
		flaggedOrigins = origins
	})

	_, err := reg.Create(ctx, "u1", "10.0.0.1", "h", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = reg.Create(ctx, "u1", "10.0.0.2", "h", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, flaggedUser)

	_, err = reg.Create(ctx, "u1", "10.0.0.3", "h", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "u1", flaggedUser)
	assert.Len(t, flaggedOrigins, 3)
}

func TestAnomalyDetection_SameOriginNotFlagged(t *testing.T) {
	reg := newTestRegistry(AnomalyPolicy{MaxDistinctOrigins: 3, Window: time.Hour})
	ctx := context.Background()

	flagged := false
	reg.OnAnomaly(func(context.Context, string, []string) { flagged = true })

	for i := 0; i < 5; i++ {
		_, err := reg.Create(ctx, "u1", "10.0.0.1", "h", time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	assert.False(t, flagged)
}

func TestDeleteExpired(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, AnomalyPolicy{}, logger.New("error"))
	ctx := context.Background()

	_, err := reg.Create(ctx, "u1", "10.0.0.1", "h", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	keep, err := reg.Create(ctx, "u1", "10.0.0.1", "h", time.Now().Add(time.Hour))
	require.NoError(t, err)

	deleted, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = reg.Get(ctx, keep.ID)
	assert.NoError(t, err)
}

func TestCollectExpired_HonorsGraceWindow(t *testing.T) {
	store := NewMemoryStore()
	reg := NewRegistry(store, AnomalyPolicy{}, logger.New("error"))
	ctx := context.Background()

	recent, err := reg.Create(ctx, "u1", "10.0.0.1", "h", time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	stale, err := reg.Create(ctx, "u1", "10.0.0.1", "h", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	// A sweep with a one-hour grace keeps the freshly expired session around.
	reg.collectExpired(ctx, time.Hour)

	_, err = reg.Get(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = reg.Get(ctx, stale.ID)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}
