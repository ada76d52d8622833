package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bioplatform/access-gateway/pkg/database"
	"github.com/bioplatform/access-gateway/pkg/logger"
	"github.com/bioplatform/access-gateway/pkg/types"
)

// PostgresStore persists audit records in PostgreSQL. Sequence allocation
// and the record insert share one transaction, so a committed sequence
// number always has its record and the per-partition numbering stays
// gapless. A database trigger rejects UPDATE and DELETE on the table.
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore creates a new audit store.
func NewPostgresStore(db *database.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: log}
}

const auditColumns = `id, partition, seq, kind, COALESCE(ref_id::text, ''), timestamp, user_id, action,
		resource_type, COALESCE(resource_id, ''), COALESCE(decision, ''), COALESCE(outcome, ''),
		COALESCE(status, 0), COALESCE(backend, ''), COALESCE(latency_ms, 0), COALESCE(detail, '')`

// Append assigns the next sequence number in the record's partition and
// inserts the record atomically.
func (s *PostgresStore) Append(ctx context.Context, rec *types.AuditRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit append: %w", err)
	}
	defer tx.Rollback()

	// The upsert serializes appends per partition on the sequence row.
	seqQuery := `
		INSERT INTO audit_sequences (partition, last_seq) VALUES ($1, 1)
		ON CONFLICT (partition) DO UPDATE SET last_seq = audit_sequences.last_seq + 1
		RETURNING last_seq`

	if err := tx.QueryRowContext(ctx, seqQuery, rec.Partition).Scan(&rec.Seq); err != nil {
		return fmt.Errorf("failed to allocate audit sequence: %w", err)
	}

	insert := `
		INSERT INTO audit_records (id, partition, seq, kind, ref_id, timestamp, user_id, action,
			resource_type, resource_id, decision, outcome, status, backend, latency_ms, detail)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8, $9, NULLIF($10, ''),
			NULLIF($11, ''), NULLIF($12, ''), $13, NULLIF($14, ''), $15, NULLIF($16, ''))`

	_, err = tx.ExecContext(ctx, insert,
		rec.ID,
		rec.Partition,
		rec.Seq,
		rec.Kind,
		rec.RefID,
		rec.Timestamp,
		rec.UserID,
		rec.Action,
		rec.ResourceType,
		rec.ResourceID,
		rec.Decision,
		rec.Outcome,
		rec.Status,
		rec.Backend,
		rec.LatencyMS,
		rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit append: %w", err)
	}
	return nil
}

// QueryByResourceID returns records for one resource since from, newest
// first.
func (s *PostgresStore) QueryByResourceID(ctx context.Context, resourceID string, from time.Time) ([]*types.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_records
		WHERE resource_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, resourceID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Statistics aggregates decisions per resource type over [from, to).
func (s *PostgresStore) Statistics(ctx context.Context, from, to time.Time) (*types.AuditStatistics, error) {
	query := `
		SELECT resource_type,
			COUNT(*) FILTER (WHERE decision = 'GRANTED') AS granted,
			COUNT(*) FILTER (WHERE decision = 'DENIED') AS denied
		FROM audit_records
		WHERE kind = 'attempt' AND timestamp >= $1 AND timestamp < $2
		GROUP BY resource_type`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit statistics: %w", err)
	}
	defer rows.Close()

	stats := &types.AuditStatistics{
		From:           from,
		To:             to,
		ByResourceType: make(map[string]types.DecisionCounts),
	}
	for rows.Next() {
		var resourceType string
		var counts types.DecisionCounts
		if err := rows.Scan(&resourceType, &counts.Granted, &counts.Denied); err != nil {
			return nil, fmt.Errorf("failed to scan audit statistics: %w", err)
		}
		stats.ByResourceType[resourceType] = counts
		stats.GrantedCount += counts.Granted
		stats.DeniedCount += counts.Denied
	}
	return stats, rows.Err()
}

// LastSeq returns the highest allocated sequence in a partition.
func (s *PostgresStore) LastSeq(ctx context.Context, partition string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seq FROM audit_sequences WHERE partition = $1`, partition).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read audit sequence: %w", err)
	}
	return seq, nil
}

func scanRecords(rows *sql.Rows) ([]*types.AuditRecord, error) {
	var records []*types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Partition,
			&rec.Seq,
			&rec.Kind,
			&rec.RefID,
			&rec.Timestamp,
			&rec.UserID,
			&rec.Action,
			&rec.ResourceType,
			&rec.ResourceID,
			&rec.Decision,
			&rec.Outcome,
			&rec.Status,
			&rec.Backend,
			&rec.LatencyMS,
			&rec.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}
