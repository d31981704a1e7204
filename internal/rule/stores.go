package rule

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// RuleStore is the durable home of rule definitions and their execution
// counters. Counter mutation is compare-and-set so concurrent dispatch
// workers cannot double-fire once/rate_limited rules.
type RuleStore interface {
	Get(ctx context.Context, id string) (*Rule, error)

	// FindEnabled returns enabled, non-deleted rules for an organization
	// and trigger type. An empty orgID matches every organization.
	FindEnabled(ctx context.Context, orgID string, t TriggerType) ([]*Rule, error)

	Save(ctx context.Context, r *Rule) error

	// MarkExecuted advances lastExecutedAt from prev to now and increments
	// executionCount, atomically with the comparison. Returns false when
	// another worker already advanced the counter.
	MarkExecuted(ctx context.Context, id string, prev, now time.Time) (bool, error)

	// SetLastStatus records the terminal status of the latest firing.
	SetLastStatus(ctx context.Context, id string, status ExecutionStatus) error
}

// ExecutionStore persists firing records. Executions are append-only once
// terminal; the engine inserts each record exactly once, already terminal.
type ExecutionStore interface {
	Insert(ctx context.Context, e *Execution) error
	ListByRule(ctx context.Context, ruleID string) ([]*Execution, error)
}

// Digest is a per-rule buffer of matches awaiting a period rollover.
type Digest struct {
	RuleID      string           `json:"ruleId"`
	PeriodStart time.Time        `json:"periodStart"`
	PeriodEnd   time.Time        `json:"periodEnd"`
	Count       int              `json:"count"`
	Samples     []map[string]any `json:"samples,omitempty"`
}

// DigestStore buffers digest matches keyed by (rule, period boundary).
type DigestStore interface {
	// Append adds one match to the rule's buffer for the given period,
	// keeping at most maxSamples sample payloads.
	Append(ctx context.Context, ruleID string, periodStart, periodEnd time.Time, sample map[string]any, maxSamples int) error

	// CollectDue atomically removes and returns every buffer whose period
	// has ended, so emission and clearing cannot race.
	CollectDue(ctx context.Context, now time.Time) ([]*Digest, error)
}

// LeaseManager hands out short-lived exclusive claims keyed by rule or
// execution id, preventing concurrent duplicate processing.
type LeaseManager interface {
	// Acquire returns a release func and true when the lease was obtained.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error)
}
