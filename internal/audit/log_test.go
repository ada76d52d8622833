package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

func newTestLog() (*Log, *MemoryStore) {
	store := NewMemoryStore()
	return NewLog(store, logger.New("error")), store
}

func TestAttemptThenOutcome(t *testing.T) {
	log, store := newTestLog()
	ctx := context.Background()

	attempt, err := log.RecordAttempt(ctx, "u1", "READ", "PATIENT_DATA", "patient-7", types.DecisionGranted, "")
	require.NoError(t, err)
	require.NotEmpty(t, attempt.ID)
	assert.Equal(t, types.AuditAttempt, attempt.Kind)
	assert.Equal(t, uint64(1), attempt.Seq)

	err = log.RecordOutcome(ctx, attempt, types.OutcomeOK, 200, "emr-backend", 42*time.Millisecond)
	require.NoError(t, err)

	records := store.All()
	require.Len(t, records, 2)
	outcome := records[1]
	assert.Equal(t, types.AuditOutcome, outcome.Kind)
	assert.Equal(t, attempt.ID, outcome.RefID)
	assert.Equal(t, uint64(2), outcome.Seq)
	assert.Equal(t, "u1", outcome.UserID)
	assert.Equal(t, int64(42), outcome.LatencyMS)
}

func TestSequencesAreGaplessPerPartition(t *testing.T) {
	log, store := newTestLog()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.RecordAttempt(ctx, "u1", "READ", "PATIENT_DATA", "p", types.DecisionGranted, "")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := log.RecordAttempt(ctx, "u1", "READ", "LAB_RESULTS", "l", types.DecisionDenied, "")
		require.NoError(t, err)
	}

	bySeq := make(map[string][]uint64)
	for _, rec := range store.All() {
		bySeq[rec.Partition] = append(bySeq[rec.Partition], rec.Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, bySeq["PATIENT_DATA"])
	assert.Equal(t, []uint64{1, 2, 3}, bySeq["LAB_RESULTS"])
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	log, store := newTestLog()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := log.RecordAttempt(ctx, fmt.Sprintf("u%d", n), "READ", "DICOM_STUDY", "study", types.DecisionGranted, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, rec := range store.All() {
		require.False(t, seen[rec.Seq], "duplicate sequence %d", rec.Seq)
		seen[rec.Seq] = true
	}
	for seq := uint64(1); seq <= writers; seq++ {
		assert.True(t, seen[seq], "missing sequence %d", seq)
	}

	last, err := store.LastSeq(ctx, "DICOM_STUDY")
	require.NoError(t, err)
	assert.Equal(t, uint64(writers), last)
}

func TestSecurityRecordsUseOwnPartition(t *testing.T) {
	log, store := newTestLog()
	ctx := context.Background()

	err := log.RecordSecurity(ctx, "u1", "refresh_token_reuse", "session s1")
	require.NoError(t, err)

	records := store.All()
	require.Len(t, records, 1)
	assert.Equal(t, SecurityPartition, records[0].Partition)
	assert.Equal(t, types.AuditSecurity, records[0].Kind)
	assert.Equal(t, "refresh_token_reuse", records[0].Action)
}

func TestQueryBySubject(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()

	_, err := log.RecordAttempt(ctx, "u1", "READ", "PATIENT_DATA", "patient-7", types.DecisionGranted, "")
	require.NoError(t, err)
	_, err = log.RecordAttempt(ctx, "u2", "WRITE", "PATIENT_DATA", "patient-7", types.DecisionDenied, "")
	require.NoError(t, err)
	_, err = log.RecordAttempt(ctx, "u1", "READ", "PATIENT_DATA", "patient-9", types.DecisionGranted, "")
	require.NoError(t, err)

	records, err := log.QueryBySubject(ctx, "patient-7", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "patient-7", rec.ResourceID)
	}
}

func TestQueryStatistics(t *testing.T) {
	log, _ := newTestLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := log.RecordAttempt(ctx, "u1", "READ", "PATIENT_DATA", "p", types.DecisionGranted, "")
		require.NoError(t, err)
	}
	_, err := log.RecordAttempt(ctx, "u2", "DELETE", "PATIENT_DATA", "p", types.DecisionDenied, "")
	require.NoError(t, err)
	_, err = log.RecordAttempt(ctx, "u3", "READ", "LAB_RESULTS", "l", types.DecisionGranted, "")
	require.NoError(t, err)

	stats, err := log.QueryStatistics(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.GrantedCount)
	assert.Equal(t, int64(1), stats.DeniedCount)
	assert.Equal(t, types.DecisionCounts{Granted: 3, Denied: 1}, stats.ByResourceType["PATIENT_DATA"])
	assert.Equal(t, types.DecisionCounts{Granted: 1}, stats.ByResourceType["LAB_RESULTS"])
}
