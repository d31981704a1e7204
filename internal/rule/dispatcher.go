package rule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
	"automation-engine/internal/scheduler"
)

// DispatcherConfig holds dispatcher tuning.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	LeaseTTL  time.Duration
}

// Dispatcher matches incoming triggers to enabled rules and starts
// executions, serializing per rule via a lease.
type Dispatcher struct {
	rules    RuleStore
	execs    ExecutionStore
	digests  DigestStore
	leases   LeaseManager
	gate     *FrequencyGate
	executor *ActionExecutor
	clock    scheduler.Clock
	logger   *logger.Logger
	metrics  *metrics.Metrics

	leaseTTL time.Duration
	jobChan  chan dispatchJob
	wg       sync.WaitGroup
}

type dispatchJob struct {
	ctx     context.Context
	rule    *Rule
	trigger TriggerType
	payload map[string]any
}

// NewDispatcher creates a dispatcher and starts its worker pool.
func NewDispatcher(cfg DispatcherConfig, rules RuleStore, execs ExecutionStore, digests DigestStore, leases LeaseManager, gate *FrequencyGate, executor *ActionExecutor, clock scheduler.Clock, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}

	d := &Dispatcher{
		rules:    rules,
		execs:    execs,
		digests:  digests,
		leases:   leases,
		gate:     gate,
		executor: executor,
		clock:    clock,
		logger:   log,
		metrics:  m,
		leaseTTL: cfg.LeaseTTL,
		jobChan:  make(chan dispatchJob, cfg.QueueSize),
	}

	d.startWorkers(cfg.Workers)
	return d
}

func (d *Dispatcher) startWorkers(n int) {
	for i := 0; i < n; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.jobChan {
		if _, err := d.Dispatch(job.ctx, job.rule, job.trigger, job.payload); err != nil {
			d.logger.Error("dispatch failed",
				"ruleId", job.rule.ID,
				"trigger", job.trigger,
				"error", err)
		}
	}
}

// Close shuts down the worker pool after draining queued work.
func (d *Dispatcher) Close() {
	close(d.jobChan)
	d.wg.Wait()
}

// HandleEvent fans a named event out to the organization's enabled event
// rules whose trigger matches the event name.
func (d *Dispatcher) HandleEvent(ctx context.Context, orgID, event string, payload map[string]any) error {
	rules, err := d.rules.FindEnabled(ctx, orgID, TriggerEvent)
	if err != nil {
		return fmt.Errorf("failed to find event rules: %w", err)
	}

	matched := 0
	for _, r := range rules {
		if r.Trigger.Event != event {
			continue
		}
		matched++
		d.enqueue(ctx, r, TriggerEvent, payload)
	}

	d.logger.Debug("event dispatched",
		"org", orgID,
		"event", event,
		"matchedRules", matched)
	return nil
}

// HandleSample evaluates a metric sample against the organization's
// threshold rules. The threshold itself reduces to a single synthetic
// condition evaluated with the regular evaluator.
func (d *Dispatcher) HandleSample(ctx context.Context, orgID string, sample MetricSample) error {
	rules, err := d.rules.FindEnabled(ctx, orgID, TriggerThreshold)
	if err != nil {
		return fmt.Errorf("failed to find threshold rules: %w", err)
	}

	for _, r := range rules {
		if r.Trigger.Metric != sample.Metric {
			continue
		}
		threshold := Condition{
			FieldPath: "value",
			Operator:  r.Trigger.Operator,
			Value:     r.Trigger.Value,
			Group:     1,
		}
		payload := map[string]any{
			"metric":    sample.Metric,
			"value":     sample.Value,
			"timestamp": sample.Timestamp.Format(time.RFC3339),
		}
		if crossed, _ := Evaluate([]Condition{threshold}, payload); !crossed {
			continue
		}
		d.enqueue(ctx, r, TriggerThreshold, payload)
	}
	return nil
}

// Invoke runs a manual-trigger rule synchronously and returns its
// execution record.
func (d *Dispatcher) Invoke(ctx context.Context, ruleID string, payload map[string]any) (*Execution, error) {
	r, err := d.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if r.TriggerType != TriggerManual {
		return nil, fmt.Errorf("rule %s is not manually triggered", ruleID)
	}
	if !r.Enabled || r.Deleted {
		return nil, fmt.Errorf("rule %s is not enabled", ruleID)
	}
	exec, err := d.Dispatch(ctx, r, TriggerManual, payload)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("rule %s is already executing", ruleID)
	}
	return exec, nil
}

// TickSchedules fires every schedule rule whose cron expression matches the
// current minute, guarded against double-firing within that minute.
func (d *Dispatcher) TickSchedules(ctx context.Context, now time.Time) {
	rules, err := d.rules.FindEnabled(ctx, "", TriggerSchedule)
	if err != nil {
		d.logger.Error("failed to load schedule rules", "error", err)
		return
	}

	minute := now.Truncate(time.Minute)
	for _, r := range rules {
		sched, err := scheduler.ParseCron(r.Trigger.Cron)
		if err != nil {
			d.logger.Error("invalid cron expression on rule",
				"ruleId", r.ID,
				"cron", r.Trigger.Cron,
				"error", err)
			continue
		}
		if !sched.Next(minute.Add(-time.Second)).Equal(minute) {
			continue
		}
		// Already fired this minute.
		if r.LastExecutedAt.Truncate(time.Minute).Equal(minute) {
			continue
		}
		payload := map[string]any{
			"scheduledAt": minute.Format(time.RFC3339),
		}
		d.enqueue(ctx, r, TriggerSchedule, payload)
	}
}

// FlushDigests emits one synthetic firing per digest buffer whose period
// has rolled over. The buffer was already cleared atomically by the store.
func (d *Dispatcher) FlushDigests(ctx context.Context, now time.Time) {
	due, err := d.digests.CollectDue(ctx, now)
	if err != nil {
		d.logger.Error("failed to collect due digests", "error", err)
		return
	}

	for _, digest := range due {
		r, err := d.rules.Get(ctx, digest.RuleID)
		if err != nil {
			d.logger.Error("failed to load rule for digest",
				"ruleId", digest.RuleID,
				"error", err)
			continue
		}
		if !r.Enabled || r.Deleted {
			continue
		}
		payload := map[string]any{
			"digest": map[string]any{
				"count":       digest.Count,
				"samples":     digest.Samples,
				"periodStart": digest.PeriodStart.Format(time.RFC3339),
				"periodEnd":   digest.PeriodEnd.Format(time.RFC3339),
			},
		}
		if err := d.fireDigest(ctx, r, payload); err != nil {
			d.logger.Error("failed to emit digest firing",
				"ruleId", r.ID,
				"error", err)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, r *Rule, trigger TriggerType, payload map[string]any) {
	select {
	case d.jobChan <- dispatchJob{ctx: ctx, rule: r, trigger: trigger, payload: payload}:
	default:
		d.logger.Error("dispatch queue full, dropping trigger",
			"ruleId", r.ID,
			"trigger", trigger)
	}
}

// Dispatch runs the evaluate → gate → execute → persist sequence for one
// rule under its lease. A nil execution with nil error means the lease was
// held elsewhere and this delivery was ceded to the holder.
func (d *Dispatcher) Dispatch(ctx context.Context, stale *Rule, trigger TriggerType, payload map[string]any) (*Execution, error) {
	release, ok, err := d.leases.Acquire(ctx, "rule:"+stale.ID, d.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rule lease: %w", err)
	}
	if !ok {
		d.logger.Debug("rule lease held elsewhere, skipping",
			"ruleId", stale.ID)
		return nil, nil
	}
	defer release()

	// Reload for fresh counters now that the lease is held.
	r, err := d.rules.Get(ctx, stale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload rule: %w", err)
	}
	if !r.Enabled || r.Deleted {
		return nil, nil
	}

	now := d.clock.Now()
	matched, trace := Evaluate(r.Conditions, payload)
	if d.metrics != nil {
		d.metrics.IncEvaluations()
		if matched {
			d.metrics.IncRuleMatches()
		}
	}

	exec := &Execution{
		ID:             uuid.NewString(),
		RuleID:         r.ID,
		OrgID:          r.OrgID,
		TriggeredBy:    trigger,
		TriggerData:    payload,
		ConditionsMet:  matched,
		ConditionTrace: trace,
		StartedAt:      now,
	}

	if !matched {
		exec.Status = StatusSkipped
		return d.finish(ctx, r, exec, false)
	}

	decision, err := d.gate.ShouldFire(ctx, r, now, payload)
	if err != nil {
		// Store failure: leave the rule untouched for the next cycle, as
		// if this delivery never ran.
		return nil, err
	}

	switch decision {
	case GateSuppressed, GateBuffered:
		exec.Status = StatusSkipped
		return d.finish(ctx, r, exec, false)
	case GateRateLimited:
		exec.Status = StatusRateLimited
		return d.finish(ctx, r, exec, false)
	}

	exec.Status = StatusRunning
	ectx := NewExecContext(r, exec.ID, trigger, payload, now)
	exec.Actions = d.executor.Run(ctx, r.Actions, ectx)
	exec.Status = executionStatus(exec.Actions)
	return d.finish(ctx, r, exec, true)
}

// fireDigest runs a synthetic digest firing, bypassing the gate: the
// rollover itself is the fire decision.
func (d *Dispatcher) fireDigest(ctx context.Context, stale *Rule, payload map[string]any) error {
	release, ok, err := d.leases.Acquire(ctx, "rule:"+stale.ID, d.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire rule lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("rule lease held elsewhere")
	}
	defer release()

	r, err := d.rules.Get(ctx, stale.ID)
	if err != nil {
		return fmt.Errorf("failed to reload rule: %w", err)
	}

	now := d.clock.Now()
	if _, err := d.rules.MarkExecuted(ctx, r.ID, r.LastExecutedAt, now); err != nil {
		return fmt.Errorf("failed to mark rule executed: %w", err)
	}

	exec := &Execution{
		ID:            uuid.NewString(),
		RuleID:        r.ID,
		OrgID:         r.OrgID,
		TriggeredBy:   r.TriggerType,
		TriggerData:   payload,
		ConditionsMet: true,
		Status:        StatusRunning,
		StartedAt:     now,
	}

	ectx := NewExecContext(r, exec.ID, r.TriggerType, payload, now)
	exec.Actions = d.executor.Run(ctx, r.Actions, ectx)
	exec.Status = executionStatus(exec.Actions)
	_, err = d.finish(ctx, r, exec, true)
	return err
}

// finish stamps and persists the execution, then records the terminal
// status on the rule.
func (d *Dispatcher) finish(ctx context.Context, r *Rule, exec *Execution, fired bool) (*Execution, error) {
	exec.CompletedAt = d.clock.Now()

	if err := d.execs.Insert(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}
	if fired {
		if err := d.rules.SetLastStatus(ctx, r.ID, exec.Status); err != nil {
			d.logger.Error("failed to record rule status",
				"ruleId", r.ID,
				"error", err)
		}
	}

	if d.metrics != nil {
		d.metrics.IncExecutions(string(exec.Status))
	}

	d.logger.Info("rule execution finished",
		"ruleId", r.ID,
		"executionId", exec.ID,
		"trigger", exec.TriggeredBy,
		"status", exec.Status,
		"conditionsMet", exec.ConditionsMet)
	return exec, nil
}

// executionStatus derives the firing's terminal status from the action
// trace. Actions are independent side effects; the whole firing fails only
// when the final action failed.
func executionStatus(actions []ActionExecution) ExecutionStatus {
	if len(actions) == 0 {
		return StatusSuccess
	}
	if actions[len(actions)-1].Status == ActionFailed {
		return StatusFailed
	}
	return StatusSuccess
}
