package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/monitoring"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// SecurityPartition holds records not tied to a single resource type.
const SecurityPartition = "SECURITY"

// Store is the append-only audit persistence backend. Append assigns the
// record's sequence number: strictly increasing and gapless within its
// partition.
type Store interface {
	Append(ctx context.Context, rec *types.AuditRecord) error
	QueryByResourceID(ctx context.Context, resourceID string, from time.Time) ([]*types.AuditRecord, error)
	Statistics(ctx context.Context, from, to time.Time) (*types.AuditStatistics, error)
	LastSeq(ctx context.Context, partition string) (uint64, error)
}

// Log is the access trail. Every authorization attempt gets a record before
// the backend is called; the outcome is a second record referencing it. An
// audit write failure fails the guarded operation, never the other way
// around.
type Log struct {
	store  Store
	logger *logger.Logger
	now    func() time.Time
}

// NewLog creates an audit log over a store.
func NewLog(store Store, log *logger.Logger) *Log {
	return &Log{store: store, logger: log, now: time.Now}
}

// RecordAttempt appends the attempt record for an access decision and
// returns it for the matching outcome record.
func (l *Log) RecordAttempt(ctx context.Context, userID, action, resourceType, resourceID string, decision types.Decision, detail string) (*types.AuditRecord, error) {
	rec := &types.AuditRecord{
		ID:           uuid.New().String(),
		Partition:    resourceType,
		Kind:         types.AuditAttempt,
		Timestamp:    l.now(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Decision:     decision,
		Detail:       detail,
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return nil, err
	}

	monitoring.RecordAuditAppend(string(types.AuditAttempt))
	l.logger.Audit(userID, action, resourceType, decision == types.DecisionGranted, map[string]interface{}{
		"resource_id": resourceID,
		"seq":         rec.Seq,
	})
	return rec, nil
}

// RecordOutcome appends the outcome record for a previously recorded
// attempt.
func (l *Log) RecordOutcome(ctx context.Context, attempt *types.AuditRecord, outcome string, status int, backend string, latency time.Duration) error {
	rec := &types.AuditRecord{
		ID:           uuid.New().String(),
		Partition:    attempt.ResourceType,
		Kind:         types.AuditOutcome,
		RefID:        attempt.ID,
		Timestamp:    l.now(),
		UserID:       attempt.UserID,
		Action:       attempt.Action,
		ResourceType: attempt.ResourceType,
		ResourceID:   attempt.ResourceID,
		Outcome:      outcome,
		Status:       status,
		Backend:      backend,
		LatencyMS:    latency.Milliseconds(),
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return err
	}
	monitoring.RecordAuditAppend(string(types.AuditOutcome))
	return nil
}

// RecordSecurity appends a security event such as token reuse or suspicious
// concurrent sessions.
func (l *Log) RecordSecurity(ctx context.Context, userID, event, detail string) error {
	rec := &types.AuditRecord{
		ID:           uuid.New().String(),
		Partition:    SecurityPartition,
		Kind:         types.AuditSecurity,
		Timestamp:    l.now(),
		UserID:       userID,
		Action:       event,
		ResourceType: SecurityPartition,
		Detail:       detail,
	}

	if err := l.store.Append(ctx, rec); err != nil {
		return err
	}
	monitoring.RecordAuditAppend(string(types.AuditSecurity))
	return nil
}

// QueryBySubject returns the trail for one resource, newest first.
func (l *Log) QueryBySubject(ctx context.Context, resourceID string, since time.Time) ([]*types.AuditRecord, error) {
	return l.store.QueryByResourceID(ctx, resourceID, since)
}

// QueryStatistics aggregates decisions over a window.
func (l *Log) QueryStatistics(ctx context.Context, from, to time.Time) (*types.AuditStatistics, error) {
	return l.store.Statistics(ctx, from, to)
}
