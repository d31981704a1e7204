// Package store provides in-memory implementations of the engine's
// persistence interfaces. Every mutation that guards a concurrency
// invariant (execution counters, escalation advancement, workflow
// revisions, leases) is compare-and-set under the store mutex, giving the
// same atomicity a database conditional update would.
package store

import (
	"automation-engine/internal/scheduler"
)

// Stores bundles one of every store for wiring convenience.
type Stores struct {
	Rules       *RuleStore
	Executions  *ExecutionStore
	Digests     *DigestStore
	Leases      *LeaseManager
	Escalations *EscalationStore
	Workflows   *WorkflowStore
}

// New creates a fresh set of in-memory stores sharing a clock.
func New(clock scheduler.Clock) *Stores {
	return &Stores{
		Rules:       NewRuleStore(),
		Executions:  NewExecutionStore(),
		Digests:     NewDigestStore(),
		Leases:      NewLeaseManager(clock),
		Escalations: NewEscalationStore(),
		Workflows:   NewWorkflowStore(),
	}
}
