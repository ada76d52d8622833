package types

import "time"

// Decision is the result of an authorization check.
type Decision string

const (
	DecisionGranted Decision = "GRANTED"
	DecisionDenied  Decision = "DENIED"
)

// AuditKind distinguishes the two record shapes in the trail: the attempt
// written before a backend call and the outcome appended after it. Security
// records capture events like token reuse or suspicious concurrent sessions.
type AuditKind string

const (
	AuditAttempt  AuditKind = "attempt"
	AuditOutcome  AuditKind = "outcome"
	AuditSecurity AuditKind = "security"
)

// Proxy outcome values beyond plain backend statuses.
const (
	OutcomeOK                 = "ok"
	OutcomeServiceUnavailable = "service_unavailable"
	OutcomeBackendTimeout     = "backend_timeout"
	OutcomeInternalError      = "internal_error"
)

// AuditRecord is one append-only entry in the access trail. Sequence numbers
// are strictly increasing and gapless within a partition. Records are never
// mutated; an outcome is a second record referencing the attempt by RefID.
type AuditRecord struct {
	ID           string    `json:"id" db:"id"`
	Partition    string    `json:"partition" db:"partition"`
	Seq          uint64    `json:"seq" db:"seq"`
	Kind         AuditKind `json:"kind" db:"kind"`
	RefID        string    `json:"ref_id,omitempty" db:"ref_id"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
	UserID       string    `json:"user_id" db:"user_id"`
	Action       string    `json:"action" db:"action"`
	ResourceType string    `json:"resource_type" db:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty" db:"resource_id"`
	Decision     Decision  `json:"decision,omitempty" db:"decision"`
	Outcome      string    `json:"outcome,omitempty" db:"outcome"`
	Status       int       `json:"status,omitempty" db:"status"`
	Backend      string    `json:"backend,omitempty" db:"backend"`
	LatencyMS    int64     `json:"latency_ms,omitempty" db:"latency_ms"`
	Detail       string    `json:"detail,omitempty" db:"detail"`
}

// DecisionCounts aggregates decisions for one resource type.
type DecisionCounts struct {
	Granted int64 `json:"granted"`
	Denied  int64 `json:"denied"`
}

// AuditStatistics is the aggregate view over a time window.
type AuditStatistics struct {
	From           time.Time                 `json:"from"`
	To             time.Time                 `json:"to"`
	GrantedCount   int64                     `json:"grantedCount"`
	DeniedCount    int64                     `json:"deniedCount"`
	ByResourceType map[string]DecisionCounts `json:"byResourceType"`
}
