package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bioplatform/access-gateway/pkg/types"
)

// MemoryStore is an in-process audit store for tests and single-node
// development runs. The mutex gives the same gapless per-partition numbering
// the PostgreSQL store gets from its sequence row.
type MemoryStore struct {
	mu      sync.Mutex
	seqs    map[string]uint64
	records []*types.AuditRecord
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seqs: make(map[string]uint64)}
}

// Append assigns the next sequence in the record's partition and stores it.
func (s *MemoryStore) Append(_ context.Context, rec *types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seqs[rec.Partition]++
	rec.Seq = s.seqs[rec.Partition]

	copied := *rec
	s.records = append(s.records, &copied)
	return nil
}

// QueryByResourceID returns records for one resource since from, newest
// first.
func (s *MemoryStore) QueryByResourceID(_ context.Context, resourceID string, from time.Time) ([]*types.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.AuditRecord
	for _, rec := range s.records {
		if rec.ResourceID == resourceID && !rec.Timestamp.Before(from) {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Statistics aggregates decisions per resource type over [from, to).
func (s *MemoryStore) Statistics(_ context.Context, from, to time.Time) (*types.AuditStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &types.AuditStatistics{
		From:           from,
		To:             to,
		ByResourceType: make(map[string]types.DecisionCounts),
	}
	for _, rec := range s.records {
		if rec.Kind != types.AuditAttempt || rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		counts := stats.ByResourceType[rec.ResourceType]
		switch rec.Decision {
		case types.DecisionGranted:
			counts.Granted++
			stats.GrantedCount++
		case types.DecisionDenied:
			counts.Denied++
			stats.DeniedCount++
		}
		stats.ByResourceType[rec.ResourceType] = counts
	}
	return stats, nil
}

// LastSeq returns the highest allocated sequence in a partition.
func (s *MemoryStore) LastSeq(_ context.Context, partition string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqs[partition], nil
}

// All returns every stored record in append order. Test helper.
func (s *MemoryStore) All() []*types.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*types.AuditRecord, len(s.records))
	for i, rec := range s.records {
		copied := *rec
		out[i] = &copied
	}
	return out
}
