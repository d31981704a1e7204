package workflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"automation-engine/internal/collab"
	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
)

// WakeFunc schedules a future resume for an execution paused on
// wait_for_duration. Wired to the scheduler from main.
type WakeFunc func(at time.Time, executionID string)

// Engine interprets workflow step lists as resumable state machines. One
// execution is never advanced by two workers at once (lease per execution
// id); paused executions consume no goroutine until a timer or an external
// signal re-enqueues them.
type Engine struct {
	store    Store
	leases   rule.LeaseManager
	notifier collab.Notifier
	webhooks collab.WebhookCaller
	records  collab.RecordStore
	clock    scheduler.Clock
	logger   *logger.Logger
	metrics  *metrics.Metrics

	wake     WakeFunc
	leaseTTL time.Duration
}

// NewEngine creates a workflow engine.
func NewEngine(store Store, leases rule.LeaseManager, notifier collab.Notifier, webhooks collab.WebhookCaller, records collab.RecordStore, clock scheduler.Clock, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    store,
		leases:   leases,
		notifier: notifier,
		webhooks: webhooks,
		records:  records,
		clock:    clock,
		logger:   log,
		metrics:  m,
		leaseTTL: 5 * time.Minute,
	}
}

// SetWake wires the duration-wait resume scheduler.
func (e *Engine) SetWake(wake WakeFunc) {
	e.wake = wake
}

// StartWorkflow creates a new execution and interprets it until it
// completes, fails or suspends. Implements rule.WorkflowStarter.
func (e *Engine) StartWorkflow(ctx context.Context, orgID, workflowID string, input map[string]any) (string, error) {
	def, err := e.store.GetDefinition(ctx, workflowID)
	if err != nil {
		return "", err
	}
	if orgID != "" && def.OrgID != orgID {
		return "", rule.ErrNotFound
	}
	if !def.Enabled {
		return "", fmt.Errorf("workflow %s is not enabled", workflowID)
	}

	variables := make(map[string]any, len(input))
	for k, v := range input {
		variables[k] = v
	}

	exec := &Execution{
		ID:          uuid.NewString(),
		WorkflowID:  def.ID,
		OrgID:       def.OrgID,
		Status:      ExecRunning,
		CurrentStep: 1,
		StepResults: make(map[string]any),
		Variables:   variables,
		StartedAt:   e.clock.Now(),
	}
	if err := e.store.InsertExecution(ctx, exec); err != nil {
		return "", fmt.Errorf("failed to create workflow execution: %w", err)
	}

	e.logger.Info("workflow execution started",
		"workflowId", def.ID,
		"executionId", exec.ID)

	if err := e.advance(ctx, exec.ID); err != nil {
		return exec.ID, err
	}
	return exec.ID, nil
}

// HandleEvent starts executions for every enabled event-triggered workflow
// of the organization matching the event name.
func (e *Engine) HandleEvent(ctx context.Context, orgID, event string, payload map[string]any) error {
	defs, err := e.store.FindEnabledDefinitions(ctx, orgID, rule.TriggerEvent)
	if err != nil {
		return fmt.Errorf("failed to find event workflows: %w", err)
	}
	for _, def := range defs {
		if def.Trigger.Event != event {
			continue
		}
		if _, err := e.StartWorkflow(ctx, def.OrgID, def.ID, payload); err != nil {
			e.logger.Error("failed to start workflow for event",
				"workflowId", def.ID,
				"event", event,
				"error", err)
		}
	}
	return nil
}

// Resume wakes an execution paused on wait_for_condition (or
// wait_for_duration, when called by the scheduler). The signal payload is
// merged into the execution's variables before the wait condition is
// re-evaluated. Reconstruction happens purely from the persisted record.
func (e *Engine) Resume(ctx context.Context, executionID string, signal map[string]any) error {
	release, ok, err := e.leases.Acquire(ctx, "workflow-execution:"+executionID, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire execution lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("execution %s is being advanced elsewhere", executionID)
	}
	defer release()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != ExecPaused {
		return fmt.Errorf("execution %s is not paused (status %s)", executionID, exec.Status)
	}

	for k, v := range signal {
		exec.Variables[k] = v
	}
	exec.Status = ExecRunning
	exec.ResumedAt = e.clock.Now()
	exec.ResumeAt = time.Time{}
	if ok, err := e.store.UpdateExecution(ctx, exec); err != nil || !ok {
		return fmt.Errorf("failed to persist resume: %w", err)
	}

	def, err := e.store.GetDefinition(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	return e.run(ctx, def, exec)
}

// ResumeDue wakes every execution whose wait_for_duration deadline has
// passed. Driven by the scheduler; also recovers timers lost to a process
// restart.
func (e *Engine) ResumeDue(ctx context.Context, now time.Time) {
	due, err := e.store.DueResumes(ctx, now)
	if err != nil {
		e.logger.Error("failed to load due workflow resumes", "error", err)
		return
	}
	for _, exec := range due {
		if err := e.Resume(ctx, exec.ID, nil); err != nil {
			e.logger.Error("failed to resume workflow execution",
				"executionId", exec.ID,
				"error", err)
		}
	}
}

// Cancel requests cancellation. It is honored at the next step boundary,
// never mid in-flight external call; a paused execution is finalized
// immediately since it already sits at a boundary.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	ok, err := e.store.RequestCancel(ctx, executionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("execution %s is already terminal", executionID)
	}

	release, held, err := e.leases.Acquire(ctx, "workflow-execution:"+executionID, e.leaseTTL)
	if err != nil || !held {
		// An active worker holds the lease and will observe the flag at
		// the next boundary.
		return nil
	}
	defer release()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status == ExecPaused || exec.Status == ExecPending {
		e.finalize(ctx, exec, ExecCancelled, 0, "")
	}
	return nil
}

// advance interprets an execution under its lease.
func (e *Engine) advance(ctx context.Context, executionID string) error {
	release, ok, err := e.leases.Acquire(ctx, "workflow-execution:"+executionID, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire execution lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("execution %s is being advanced elsewhere", executionID)
	}
	defer release()

	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	def, err := e.store.GetDefinition(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	return e.run(ctx, def, exec)
}

// run is the interpreter loop. State is persisted at every step boundary,
// and always before a suspension, so the loop can restart from cold
// process state using nothing but the stored record.
func (e *Engine) run(ctx context.Context, def *Definition, exec *Execution) error {
	for {
		if exec.CancelRequested {
			e.finalize(ctx, exec, ExecCancelled, 0, "")
			return nil
		}

		if exec.CurrentStep == len(def.Steps)+1 {
			e.finalize(ctx, exec, ExecCompleted, 0, "")
			return nil
		}
		if exec.CurrentStep < 1 || exec.CurrentStep > len(def.Steps) {
			e.finalize(ctx, exec, ExecFailed, exec.CurrentStep,
				fmt.Sprintf("jump target %d is out of range", exec.CurrentStep))
			return nil
		}

		step := &def.Steps[exec.CurrentStep-1]
		suspended, err := e.runStep(ctx, def, exec, step)
		if err != nil {
			e.stepMetric(step, "failed")
			e.finalize(ctx, exec, ExecFailed, step.Step, err.Error())
			return nil
		}
		e.stepMetric(step, "success")

		if ok, perr := e.store.UpdateExecution(ctx, exec); perr != nil || !ok {
			return fmt.Errorf("failed to persist workflow state at step %d: %w", step.Step, perr)
		}
		if suspended {
			e.logger.Info("workflow execution suspended",
				"executionId", exec.ID,
				"step", step.Step,
				"resumeAt", exec.ResumeAt)
			return nil
		}
	}
}

// runStep executes one step and mutates the execution's control state.
// Returns suspended=true when the interpreter must stop without the
// execution being terminal.
func (e *Engine) runStep(ctx context.Context, def *Definition, exec *Execution, step *Step) (bool, error) {
	cfg := &step.Config

	switch step.Type {
	case StepBranchCondition:
		matched, _ := rule.Evaluate(step.Conditions, e.view(exec))
		target := cfg.TrueStep
		if !matched {
			target = cfg.FalseStep
			if target == 0 {
				target = exec.CurrentStep + 1
			}
		}
		exec.StepResults[strconv.Itoa(step.Step)] = map[string]any{
			"matched": matched,
			"target":  target,
		}
		exec.CurrentStep = target
		return false, nil

	case StepLoop:
		key := fmt.Sprintf("loop_%d_iterations", step.Step)
		completed := intVar(exec.Variables, key) + 1
		exec.Variables[key] = completed

		matched, _ := rule.Evaluate(step.Conditions, e.view(exec))
		if !matched {
			// Exit condition reached.
			exec.StepResults[strconv.Itoa(step.Step)] = map[string]any{
				"iterations": completed - 1,
			}
			exec.CurrentStep++
			return false, nil
		}
		if completed >= cfg.MaxIterations {
			// Designed termination: the cap was hit without the exit
			// condition becoming false.
			return false, fmt.Errorf("loop iteration cap %d reached", cfg.MaxIterations)
		}
		exec.CurrentStep = cfg.TargetStep
		return false, nil

	case StepWaitForDuration:
		now := e.clock.Now()
		resumeAt := now.Add(time.Duration(cfg.DurationSeconds) * time.Second)
		exec.StepResults[strconv.Itoa(step.Step)] = map[string]any{
			"pausedUntil": resumeAt.Format(time.RFC3339),
		}
		// Advance past the wait before pausing; the resume continues at
		// the persisted currentStep.
		exec.CurrentStep++
		exec.Status = ExecPaused
		exec.PausedAt = now
		exec.ResumeAt = resumeAt
		if e.wake != nil {
			e.wake(resumeAt, exec.ID)
		}
		return true, nil

	case StepWaitForCondition:
		matched, _ := rule.Evaluate(step.Conditions, e.view(exec))
		if matched {
			exec.StepResults[strconv.Itoa(step.Step)] = map[string]any{
				"matched": true,
			}
			exec.CurrentStep++
			return false, nil
		}
		// No scheduled resume: an external Resume call re-evaluates the
		// condition against variables merged with the signal payload.
		exec.Status = ExecPaused
		exec.PausedAt = e.clock.Now()
		exec.ResumeAt = time.Time{}
		return true, nil

	default:
		result, err := e.runLinear(ctx, exec, step)
		if err != nil {
			return false, err
		}
		exec.StepResults[strconv.Itoa(step.Step)] = result
		exec.CurrentStep++
		return false, nil
	}
}

// runLinear executes a collaborator-calling step, retrying per the step's
// own retry policy with a fixed delay. Exhausting retries fails the whole
// workflow: steps are sequential dependencies, unlike alert actions.
func (e *Engine) runLinear(ctx context.Context, exec *Execution, step *Step) (map[string]any, error) {
	maxAttempts := 1
	var delay time.Duration
	if step.Retry != nil {
		maxAttempts = step.Retry.MaxRetries + 1
		delay = time.Duration(step.Retry.DelaySeconds) * time.Second
	}

	var result map[string]any
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = e.invokeStep(ctx, exec, step)
		if err == nil {
			return result, nil
		}
		e.logger.Debug("workflow step attempt failed",
			"executionId", exec.ID,
			"step", step.Step,
			"name", step.label(),
			"attempt", attempt,
			"error", err)
		if attempt < maxAttempts {
			if sleepErr := scheduler.Sleep(ctx, e.clock, delay); sleepErr != nil {
				return nil, fmt.Errorf("retry aborted: %w", sleepErr)
			}
		}
	}
	return nil, err
}

// invokeStep performs a single attempt of a linear step.
func (e *Engine) invokeStep(ctx context.Context, exec *Execution, step *Step) (map[string]any, error) {
	cfg := &step.Config

	switch step.Type {
	case StepSendNotification:
		err := e.notifier.Send(ctx, collab.Notification{
			Type:       cfg.NotifyType,
			Recipients: cfg.Recipients,
			Subject:    cfg.Subject,
			Body:       cfg.Body,
			Priority:   cfg.Priority,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"recipients": len(cfg.Recipients)}, nil

	case StepUpdateField:
		if err := e.records.Update(ctx, cfg.Table, cfg.RecordID, cfg.Fields); err != nil {
			return nil, err
		}
		return map[string]any{"recordId": cfg.RecordID}, nil

	case StepCreateRecord:
		id, err := e.records.Create(ctx, cfg.Table, cfg.Fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recordId": id}, nil

	case StepDeleteRecord:
		if err := e.records.Delete(ctx, cfg.Table, cfg.RecordID); err != nil {
			return nil, err
		}
		return map[string]any{"recordId": cfg.RecordID}, nil

	case StepCallAPI, StepSendWebhook:
		resp, err := e.webhooks.Call(ctx, collab.WebhookRequest{
			URL:     cfg.URL,
			Method:  cfg.Method,
			Headers: cfg.Headers,
			Body:    cfg.Payload,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"statusCode": resp.StatusCode}, nil

	case StepRunQuery:
		rows, err := e.records.Query(ctx, cfg.Query)
		if err != nil {
			return nil, err
		}
		if cfg.ResultVar != "" {
			exec.Variables[cfg.ResultVar] = rows
		}
		return map[string]any{"rows": len(rows)}, nil

	default:
		return nil, fmt.Errorf("unknown step type: %s", step.Type)
	}
}

// view is the payload wait/branch/loop conditions evaluate against: the
// execution's variables with step results mounted under "steps".
func (e *Engine) view(exec *Execution) map[string]any {
	view := make(map[string]any, len(exec.Variables)+1)
	for k, v := range exec.Variables {
		view[k] = v
	}
	view["steps"] = exec.StepResults
	return view
}

// finalize stamps a terminal status and persists it.
func (e *Engine) finalize(ctx context.Context, exec *Execution, status ExecStatus, failedStep int, errMsg string) {
	exec.Status = status
	exec.CompletedAt = e.clock.Now()
	exec.FailedStep = failedStep
	exec.ErrorMessage = errMsg

	if ok, err := e.store.UpdateExecution(ctx, exec); err != nil || !ok {
		e.logger.Error("failed to persist terminal workflow state",
			"executionId", exec.ID,
			"status", status,
			"error", err)
		return
	}

	if e.metrics != nil {
		e.metrics.IncWorkflowExecutions(string(status))
	}
	e.logger.Info("workflow execution finished",
		"executionId", exec.ID,
		"workflowId", exec.WorkflowID,
		"status", status,
		"failedStep", failedStep)
}

func (e *Engine) stepMetric(step *Step, outcome string) {
	if e.metrics != nil {
		e.metrics.IncWorkflowSteps(string(step.Type), outcome)
	}
}

func intVar(vars map[string]any, key string) int {
	switch v := vars[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
