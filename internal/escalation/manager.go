package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
)

// Manager is the timed state machine over unresolved escalations. It
// implements rule.Escalator so an escalate action can create records, and
// its Sweep is driven by the scheduler.
type Manager struct {
	store    Store
	executor *rule.ActionExecutor
	clock    scheduler.Clock
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// NewManager creates an escalation manager.
func NewManager(store Store, executor *rule.ActionExecutor, clock scheduler.Clock, log *logger.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:    store,
		executor: executor,
		clock:    clock,
		logger:   log,
		metrics:  m,
	}
}

// Trigger creates a new escalation at level 1. Implements rule.Escalator;
// success here is what the escalate action reports as its own success.
func (m *Manager) Trigger(ctx context.Context, ectx *rule.ExecContext, levels []rule.EscalationLevel) (string, error) {
	if err := rule.ValidateEscalationLevels(levels); err != nil {
		return "", err
	}

	now := m.clock.Now()
	esc := &Escalation{
		ID:               uuid.NewString(),
		OrgID:            ectx.OrgID,
		RuleID:           ectx.RuleID,
		ExecutionID:      ectx.ExecutionID,
		Levels:           levels,
		TriggerData:      ectx.TriggerData,
		CurrentLevel:     1,
		Status:           StatusPending,
		StartedAt:        now,
		NextEscalationAt: now.Add(time.Duration(levels[0].DelayMinutes) * time.Minute),
	}

	if err := m.store.Insert(ctx, esc); err != nil {
		return "", fmt.Errorf("failed to create escalation: %w", err)
	}

	m.logger.Info("escalation created",
		"escalationId", esc.ID,
		"ruleId", esc.RuleID,
		"levels", len(levels),
		"nextEscalationAt", esc.NextEscalationAt)
	m.updateActiveGauge(ctx)
	return esc.ID, nil
}

// Sweep ticks every due escalation. Safe to run from multiple workers
// concurrently: each level fire is claimed with a compare-and-set before
// its actions run, and a lost claim is a discard, not an error.
func (m *Manager) Sweep(ctx context.Context, now time.Time) {
	due, err := m.store.Due(ctx, now)
	if err != nil {
		m.logger.Error("failed to load due escalations", "error", err)
		return
	}

	for _, esc := range due {
		if err := m.tick(ctx, esc, now); err != nil {
			m.logger.Error("escalation tick failed",
				"escalationId", esc.ID,
				"error", err)
		}
	}

	if len(due) > 0 {
		m.updateActiveGauge(ctx)
	}
}

// tick fires the current level and advances the record. The claim happens
// before the level's actions run so a concurrent double-tick never fires
// the same level twice.
func (m *Manager) tick(ctx context.Context, esc *Escalation, now time.Time) error {
	levelIdx := esc.CurrentLevel - 1
	if levelIdx < 0 || levelIdx >= len(esc.Levels) {
		return fmt.Errorf("current level %d out of range", esc.CurrentLevel)
	}
	level := esc.Levels[levelIdx]

	var nextLevel int
	var nextAt time.Time
	var nextStatus Status
	if esc.CurrentLevel < len(esc.Levels) {
		nextLevel = esc.CurrentLevel + 1
		nextAt = now.Add(time.Duration(esc.Levels[levelIdx+1].DelayMinutes) * time.Minute)
		nextStatus = StatusInProgress
	} else {
		// Last level: stay escalated until explicitly resolved, with no
		// further automatic fire.
		nextLevel = esc.CurrentLevel
		nextAt = time.Time{}
		nextStatus = StatusEscalated
	}

	ok, err := m.store.Advance(ctx, esc.ID, esc.CurrentLevel, esc.NextEscalationAt, nextLevel, nextAt, nextStatus)
	if err != nil {
		return fmt.Errorf("failed to advance escalation: %w", err)
	}
	if !ok {
		// Lost the compare-and-set to a concurrent tick or a resolution.
		m.logger.Debug("escalation advance lost race",
			"escalationId", esc.ID,
			"level", esc.CurrentLevel)
		return nil
	}

	m.fireLevel(ctx, esc, &level)

	if m.metrics != nil {
		m.metrics.IncEscalationLevels()
	}
	m.logger.Info("escalation level fired",
		"escalationId", esc.ID,
		"level", level.Level,
		"severity", level.Severity,
		"nextEscalationAt", nextAt,
		"status", nextStatus)
	return nil
}

// fireLevel notifies the level's recipients and runs its actions through
// the action executor.
func (m *Manager) fireLevel(ctx context.Context, esc *Escalation, level *rule.EscalationLevel) {
	ectx := &rule.ExecContext{
		OrgID:       esc.OrgID,
		RuleID:      esc.RuleID,
		ExecutionID: esc.ExecutionID,
		TriggerData: esc.TriggerData,
		Recipients:  level.Recipients,
		Results:     make(map[string]any),
		StartedAt:   m.clock.Now(),
	}
	m.executor.Run(ctx, level.Actions, ectx)
}

// Resolve marks an escalation resolved, stopping all future ticks. It is
// idempotent: resolving an already terminal record is a no-op.
func (m *Manager) Resolve(ctx context.Context, id, resolvedBy, notes string) error {
	ok, err := m.store.Resolve(ctx, id, resolvedBy, notes, m.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %w", err)
	}
	if !ok {
		m.logger.Debug("escalation already terminal", "escalationId", id)
		return nil
	}

	m.logger.Info("escalation resolved",
		"escalationId", id,
		"resolvedBy", resolvedBy)
	m.updateActiveGauge(ctx)
	return nil
}

// Cancel cancels an escalation from any non-terminal state.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	ok, err := m.store.Cancel(ctx, id, m.clock.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel escalation: %w", err)
	}
	if !ok {
		m.logger.Debug("escalation already terminal", "escalationId", id)
		return nil
	}

	m.logger.Info("escalation cancelled", "escalationId", id)
	m.updateActiveGauge(ctx)
	return nil
}

func (m *Manager) updateActiveGauge(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	count, err := m.store.CountActive(ctx)
	if err != nil {
		return
	}
	m.metrics.SetEscalationsActive(float64(count))
}
