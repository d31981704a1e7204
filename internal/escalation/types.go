package escalation

import (
	"context"
	"time"

	"automation-engine/internal/rule"
)

// Status is the escalation lifecycle: pending → in_progress → escalated →
// resolved, with cancelled reachable from any non-terminal state. Terminal
// records are never reopened; a new incident gets a new escalation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusEscalated  Status = "escalated"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Escalation tracks one unresolved situation through its timed levels.
type Escalation struct {
	ID          string                 `json:"id"`
	OrgID       string                 `json:"orgId"`
	RuleID      string                 `json:"ruleId"`
	ExecutionID string                 `json:"executionId"`
	Levels      []rule.EscalationLevel `json:"escalationLevels"`
	TriggerData map[string]any         `json:"triggerData,omitempty"`

	CurrentLevel     int       `json:"currentLevel"`
	Status           Status    `json:"status"`
	StartedAt        time.Time `json:"startedAt"`
	NextEscalationAt time.Time `json:"nextEscalationAt,omitempty"`
	ResolvedAt       time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy       string    `json:"resolvedBy,omitempty"`
	Notes            string    `json:"notes,omitempty"`
}

// Store persists escalations. Advancement is compare-and-set so a
// concurrent double-tick never fires the same level twice.
type Store interface {
	Insert(ctx context.Context, e *Escalation) error
	Get(ctx context.Context, id string) (*Escalation, error)

	// Due returns non-terminal escalations with nextEscalationAt <= now.
	Due(ctx context.Context, now time.Time) ([]*Escalation, error)

	// Advance moves the record from (prevLevel, prevNextAt) to the given
	// level, next-fire time and status, atomically with the comparison.
	// Returns false when another worker advanced it first or the record
	// turned terminal in the meantime.
	Advance(ctx context.Context, id string, prevLevel int, prevNextAt time.Time, level int, nextAt time.Time, status Status) (bool, error)

	// Resolve marks the escalation resolved. Returns false when the
	// record was already terminal (idempotent no-op for the caller).
	Resolve(ctx context.Context, id, resolvedBy, notes string, at time.Time) (bool, error)

	// Cancel marks the escalation cancelled from any non-terminal state.
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)

	// CountActive returns the number of non-terminal escalations.
	CountActive(ctx context.Context) (int, error)
}
