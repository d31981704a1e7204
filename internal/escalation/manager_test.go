package escalation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/collab"
	"automation-engine/internal/escalation"
	"automation-engine/internal/logger"
	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
	"automation-engine/internal/store"
)

type captureNotifier struct {
	sent []collab.Notification
}

func (c *captureNotifier) Send(ctx context.Context, n collab.Notification) error {
	c.sent = append(c.sent, n)
	return nil
}

type fixture struct {
	manager  *escalation.Manager
	store    *store.EscalationStore
	notifier *captureNotifier
	clock    *scheduler.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := scheduler.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	notifier := &captureNotifier{}
	log := logger.NewNop()
	escStore := store.NewEscalationStore()

	executor := rule.NewActionExecutor(notifier, collab.NewHTTPWebhookCaller(), collab.NewMemoryRecordStore(), collab.NoScriptSandbox{}, clock, log, nil)
	manager := escalation.NewManager(escStore, executor, clock, log, nil)
	return &fixture{manager: manager, store: escStore, notifier: notifier, clock: clock}
}

func levelAction(body string) rule.Action {
	return rule.Action{
		Type:   rule.ActionEmail,
		Config: rule.ActionConfig{Body: body, To: []string{"oncall@example.com"}},
	}
}

func twoLevels() []rule.EscalationLevel {
	return []rule.EscalationLevel{
		{Level: 1, DelayMinutes: 15, Actions: []rule.Action{levelAction("level one")}, Severity: rule.SeverityWarning},
		{Level: 2, DelayMinutes: 30, Actions: []rule.Action{levelAction("level two")}, Severity: rule.SeverityCritical},
	}
}

func triggerCtx(f *fixture) *rule.ExecContext {
	return &rule.ExecContext{
		OrgID:       "org-1",
		RuleID:      "r-1",
		ExecutionID: "exec-1",
		TriggerData: map[string]any{"incident": "db down"},
		Results:     map[string]any{},
		StartedAt:   f.clock.Now(),
	}
}

func TestEscalationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := f.clock.Now()

	id, err := f.manager.Trigger(ctx, triggerCtx(f), twoLevels())
	require.NoError(t, err)

	esc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, esc.CurrentLevel)
	assert.Equal(t, escalation.StatusPending, esc.Status)
	assert.Equal(t, t0.Add(15*time.Minute), esc.NextEscalationAt)

	// Before the level-1 delay: nothing fires.
	f.manager.Sweep(ctx, t0.Add(10*time.Minute))
	assert.Empty(t, f.notifier.sent)

	// Level 1 fires; record advances to level 2.
	f.manager.Sweep(ctx, t0.Add(15*time.Minute))
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "level one", f.notifier.sent[0].Body)

	esc, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, esc.CurrentLevel)
	assert.Equal(t, escalation.StatusInProgress, esc.Status)
	assert.Equal(t, t0.Add(45*time.Minute), esc.NextEscalationAt)

	// Re-sweeping the same instant must not double-fire.
	f.manager.Sweep(ctx, t0.Add(15*time.Minute))
	assert.Len(t, f.notifier.sent, 1)

	// Last level fires; no further automatic escalation is scheduled.
	f.manager.Sweep(ctx, t0.Add(45*time.Minute))
	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, "level two", f.notifier.sent[1].Body)

	esc, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusEscalated, esc.Status)
	assert.True(t, esc.NextEscalationAt.IsZero())

	f.manager.Sweep(ctx, t0.Add(5*time.Hour))
	assert.Len(t, f.notifier.sent, 2)
}

func TestEscalationResolveStopsTicks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := f.clock.Now()

	id, err := f.manager.Trigger(ctx, triggerCtx(f), twoLevels())
	require.NoError(t, err)

	require.NoError(t, f.manager.Resolve(ctx, id, "alice", "restarted the db"))

	esc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusResolved, esc.Status)
	assert.Equal(t, "alice", esc.ResolvedBy)

	// A due sweep after resolution fires nothing.
	f.manager.Sweep(ctx, t0.Add(time.Hour))
	assert.Empty(t, f.notifier.sent)

	// Resolving again is an idempotent no-op.
	require.NoError(t, f.manager.Resolve(ctx, id, "bob", "already fixed"))
	esc, err = f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", esc.ResolvedBy)
}

func TestEscalationCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.manager.Trigger(ctx, triggerCtx(f), twoLevels())
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(ctx, id))

	esc, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, escalation.StatusCancelled, esc.Status)

	f.manager.Sweep(ctx, f.clock.Now().Add(time.Hour))
	assert.Empty(t, f.notifier.sent)
}

func TestEscalationTriggerValidatesLevels(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Trigger(context.Background(), triggerCtx(f), nil)
	assert.Error(t, err)

	_, err = f.manager.Trigger(context.Background(), triggerCtx(f), []rule.EscalationLevel{{Level: 3}})
	assert.Error(t, err)
}

func TestEscalationLevelRecipientsAreUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t0 := f.clock.Now()

	levels := []rule.EscalationLevel{{
		Level:        1,
		DelayMinutes: 5,
		Recipients: []rule.Recipient{
			{Type: "user", Identifier: "lead@example.com", Methods: []string{"email"}},
		},
		Actions: []rule.Action{{
			Type:   rule.ActionEmail,
			Config: rule.ActionConfig{Body: "paging the lead"},
		}},
	}}

	_, err := f.manager.Trigger(ctx, triggerCtx(f), levels)
	require.NoError(t, err)

	f.manager.Sweep(ctx, t0.Add(5*time.Minute))
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{"lead@example.com"}, f.notifier.sent[0].Recipients)
}
