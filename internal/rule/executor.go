package rule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"automation-engine/internal/collab"
	"automation-engine/internal/logger"
	"automation-engine/internal/metrics"
	"automation-engine/internal/scheduler"
)

// Escalator creates or advances an escalation for a firing. Implemented by
// the escalation manager; declared here so the executor does not depend on
// that package.
type Escalator interface {
	Trigger(ctx context.Context, ectx *ExecContext, levels []EscalationLevel) (string, error)
}

// WorkflowStarter launches a workflow execution from a rule action.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, orgID, workflowID string, input map[string]any) (string, error)
}

// ActionExecutor executes an ordered action list with retry and conditional
// skipping, calling out to the external collaborators.
type ActionExecutor struct {
	notifier  collab.Notifier
	webhooks  collab.WebhookCaller
	records   collab.RecordStore
	sandbox   collab.ScriptSandbox
	escalator Escalator
	workflows WorkflowStarter
	clock     scheduler.Clock
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewActionExecutor creates an executor over the given collaborators. The
// escalation manager and workflow engine are wired afterwards because they
// depend on the executor themselves.
func NewActionExecutor(notifier collab.Notifier, webhooks collab.WebhookCaller, records collab.RecordStore, sandbox collab.ScriptSandbox, clock scheduler.Clock, log *logger.Logger, m *metrics.Metrics) *ActionExecutor {
	return &ActionExecutor{
		notifier: notifier,
		webhooks: webhooks,
		records:  records,
		sandbox:  sandbox,
		clock:    clock,
		logger:   log,
		metrics:  m,
	}
}

// SetEscalator wires the escalation manager.
func (e *ActionExecutor) SetEscalator(esc Escalator) {
	e.escalator = esc
}

// SetWorkflowStarter wires the workflow engine.
func (e *ActionExecutor) SetWorkflowStarter(w WorkflowStarter) {
	e.workflows = w
}

// Run executes the action list in orderIndex order. A failing action does
// not halt the remaining list; actions are independent side effects. Each
// action's outcome is recorded into the context so later executeIf
// conditions can reference it.
func (e *ActionExecutor) Run(ctx context.Context, actions []Action, ectx *ExecContext) []ActionExecution {
	ordered := make([]Action, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	results := make([]ActionExecution, 0, len(ordered))
	for i := range ordered {
		result := e.runAction(ctx, &ordered[i], ectx)
		ectx.RecordResult(result.OrderIndex, result.Status, result.Output, result.Error)
		results = append(results, result)

		if e.metrics != nil {
			e.metrics.IncActions(string(result.Type), string(result.Status))
			e.metrics.ObserveActionDuration(float64(result.ExecutionTimeMs) / 1000.0)
		}
	}
	return results
}

// runAction attempts one action up to maxRetries+1 times with a fixed delay
// between attempts. Only the final outcome is kept; executionTimeMs totals
// elapsed attempt time.
func (e *ActionExecutor) runAction(ctx context.Context, a *Action, ectx *ExecContext) ActionExecution {
	result := ActionExecution{
		Type:       a.Type,
		OrderIndex: a.OrderIndex,
	}

	if len(a.ExecuteIf) > 0 {
		matched, _ := Evaluate(a.ExecuteIf, ectx.View())
		if !matched {
			result.Status = ActionSkipped
			return result
		}
	}

	started := e.clock.Now()
	maxAttempts := a.MaxRetries + 1
	delay := time.Duration(a.RetryDelaySeconds) * time.Second

	var output map[string]any
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		output, err = e.invoke(ctx, a, ectx)
		if err == nil {
			break
		}

		e.logger.Debug("action attempt failed",
			"ruleId", ectx.RuleID,
			"actionType", a.Type,
			"orderIndex", a.OrderIndex,
			"attempt", attempt,
			"error", err)

		if attempt < maxAttempts {
			if sleepErr := scheduler.Sleep(ctx, e.clock, delay); sleepErr != nil {
				err = fmt.Errorf("retry aborted: %w", sleepErr)
				break
			}
		}
	}

	result.ExecutionTimeMs = e.clock.Now().Sub(started).Milliseconds()
	if err != nil {
		result.Status = ActionFailed
		result.Error = err.Error()
		e.logger.Error("action failed",
			"ruleId", ectx.RuleID,
			"actionType", a.Type,
			"orderIndex", a.OrderIndex,
			"attempts", result.Attempts,
			"error", err)
		return result
	}

	result.Status = ActionSuccess
	result.Output = output
	return result
}

// invoke performs a single attempt of an action.
func (e *ActionExecutor) invoke(ctx context.Context, a *Action, ectx *ExecContext) (map[string]any, error) {
	cfg := &a.Config

	switch a.Type {
	case ActionEmail, ActionSMS, ActionPush, ActionSlack:
		return e.sendNotification(ctx, a, ectx)

	case ActionWebhook:
		body := any(cfg.Payload)
		if cfg.Payload == nil {
			body = ectx.TriggerData
		}
		resp, err := e.webhooks.Call(ctx, collab.WebhookRequest{
			URL:     cfg.URL,
			Method:  cfg.Method,
			Headers: cfg.Headers,
			Body:    body,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"statusCode": resp.StatusCode}, nil

	case ActionTask:
		fields := map[string]any{
			"title":    cfg.Title,
			"assignee": cfg.Assignee,
			"ruleId":   ectx.RuleID,
		}
		if cfg.DueInHours > 0 {
			fields["dueAt"] = e.clock.Now().Add(time.Duration(cfg.DueInHours) * time.Hour)
		}
		id, err := e.records.Create(ctx, "tasks", fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recordId": id}, nil

	case ActionCreateRecord:
		id, err := e.records.Create(ctx, cfg.Table, cfg.Fields)
		if err != nil {
			return nil, err
		}
		return map[string]any{"recordId": id}, nil

	case ActionUpdateRecord:
		if err := e.records.Update(ctx, cfg.Table, cfg.RecordID, cfg.Fields); err != nil {
			return nil, err
		}
		return map[string]any{"recordId": cfg.RecordID}, nil

	case ActionDeleteRecord:
		if err := e.records.Delete(ctx, cfg.Table, cfg.RecordID); err != nil {
			return nil, err
		}
		return map[string]any{"recordId": cfg.RecordID}, nil

	case ActionEscalate:
		if e.escalator == nil {
			return nil, fmt.Errorf("no escalation manager configured")
		}
		id, err := e.escalator.Trigger(ctx, ectx, cfg.Levels)
		if err != nil {
			return nil, err
		}
		return map[string]any{"escalationId": id}, nil

	case ActionScript:
		return e.sandbox.Run(ctx, cfg.ScriptRef, cfg.Args)

	case ActionStartWorkflow:
		if e.workflows == nil {
			return nil, fmt.Errorf("no workflow engine configured")
		}
		input := cfg.Input
		if input == nil {
			input = ectx.TriggerData
		}
		id, err := e.workflows.StartWorkflow(ctx, ectx.OrgID, cfg.WorkflowID, input)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workflowExecutionId": id}, nil

	default:
		return nil, fmt.Errorf("unknown action type: %s", a.Type)
	}
}

// sendNotification delivers to the rule's recipients that accept this
// delivery method, dropping recipients inside their quiet-hours window.
func (e *ActionExecutor) sendNotification(ctx context.Context, a *Action, ectx *ExecContext) (map[string]any, error) {
	method := string(a.Type)
	now := e.clock.Now()

	recipients := make([]string, 0, len(ectx.Recipients)+len(a.Config.To))
	suppressed := 0
	for i := range ectx.Recipients {
		r := &ectx.Recipients[i]
		if !acceptsMethod(r, method) {
			continue
		}
		if r.InQuietHours(now) {
			suppressed++
			continue
		}
		recipients = append(recipients, r.Identifier)
	}
	recipients = append(recipients, a.Config.To...)

	output := map[string]any{
		"recipients": len(recipients),
		"suppressed": suppressed,
	}
	if len(recipients) == 0 {
		// Nothing to deliver; not a failure.
		return output, nil
	}

	err := e.notifier.Send(ctx, collab.Notification{
		Type:       method,
		Recipients: recipients,
		Subject:    a.Config.Subject,
		Body:       a.Config.Body,
		Priority:   a.Config.Priority,
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

func acceptsMethod(r *Recipient, method string) bool {
	for _, m := range r.Methods {
		if m == method {
			return true
		}
	}
	return false
}
