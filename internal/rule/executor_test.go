package rule_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/collab"
	"automation-engine/internal/logger"
	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
)

type fakeNotifier struct {
	sent []collab.Notification
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, n collab.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type fakeWebhooks struct {
	calls    []collab.WebhookRequest
	failures int // fail this many calls before succeeding
}

func (f *fakeWebhooks) Call(ctx context.Context, req collab.WebhookRequest) (*collab.WebhookResponse, error) {
	f.calls = append(f.calls, req)
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("connection refused")
	}
	return &collab.WebhookResponse{StatusCode: 200}, nil
}

type fakeEscalator struct {
	levels []rule.EscalationLevel
}

func (f *fakeEscalator) Trigger(ctx context.Context, ectx *rule.ExecContext, levels []rule.EscalationLevel) (string, error) {
	f.levels = levels
	return "esc-1", nil
}

type fakeStarter struct {
	workflowID string
	input      map[string]any
}

func (f *fakeStarter) StartWorkflow(ctx context.Context, orgID, workflowID string, input map[string]any) (string, error) {
	f.workflowID = workflowID
	f.input = input
	return "wf-exec-1", nil
}

type executorFixture struct {
	executor  *rule.ActionExecutor
	notifier  *fakeNotifier
	webhooks  *fakeWebhooks
	records   *collab.MemoryRecordStore
	escalator *fakeEscalator
	starter   *fakeStarter
	clock     *scheduler.FakeClock
}

func newExecutorFixture() *executorFixture {
	f := &executorFixture{
		notifier:  &fakeNotifier{},
		webhooks:  &fakeWebhooks{},
		records:   collab.NewMemoryRecordStore(),
		escalator: &fakeEscalator{},
		starter:   &fakeStarter{},
		clock:     scheduler.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.executor = rule.NewActionExecutor(f.notifier, f.webhooks, f.records, collab.NoScriptSandbox{}, f.clock, logger.NewNop(), nil)
	f.executor.SetEscalator(f.escalator)
	f.executor.SetWorkflowStarter(f.starter)
	return f
}

func newExecContext(f *executorFixture, recipients []rule.Recipient, payload map[string]any) *rule.ExecContext {
	r := &rule.Rule{ID: "r-1", OrgID: "org-1", Recipients: recipients}
	return rule.NewExecContext(r, "exec-1", rule.TriggerEvent, payload, f.clock.Now())
}

func TestExecutorRetriesUntilSuccess(t *testing.T) {
	f := newExecutorFixture()
	f.webhooks.failures = 2

	actions := []rule.Action{{
		Type:       rule.ActionWebhook,
		Config:     rule.ActionConfig{URL: "https://example.com/hook"},
		MaxRetries: 3,
	}}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionSuccess, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Len(t, f.webhooks.calls, 3)
}

func TestExecutorFailureDoesNotHaltList(t *testing.T) {
	f := newExecutorFixture()
	f.webhooks.failures = 100

	actions := []rule.Action{
		{
			Type:       rule.ActionWebhook,
			Config:     rule.ActionConfig{URL: "https://example.com/hook"},
			OrderIndex: 1,
			MaxRetries: 1,
		},
		{
			Type:       rule.ActionEmail,
			Config:     rule.ActionConfig{Body: "still sent", To: []string{"ops@example.com"}},
			OrderIndex: 2,
		},
	}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, results, 2)
	assert.Equal(t, rule.ActionFailed, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
	assert.NotEmpty(t, results[0].Error)
	assert.Equal(t, rule.ActionSuccess, results[1].Status)
	assert.Len(t, f.notifier.sent, 1)
}

func TestExecutorRunsInOrderIndexOrder(t *testing.T) {
	f := newExecutorFixture()

	actions := []rule.Action{
		{Type: rule.ActionEmail, Config: rule.ActionConfig{Body: "b", To: []string{"second@example.com"}}, OrderIndex: 2},
		{Type: rule.ActionEmail, Config: rule.ActionConfig{Body: "a", To: []string{"first@example.com"}}, OrderIndex: 1},
	}

	f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, f.notifier.sent, 2)
	assert.Equal(t, []string{"first@example.com"}, f.notifier.sent[0].Recipients)
	assert.Equal(t, []string{"second@example.com"}, f.notifier.sent[1].Recipients)
}

func TestExecutorExecuteIfSkips(t *testing.T) {
	f := newExecutorFixture()

	actions := []rule.Action{{
		Type:   rule.ActionEmail,
		Config: rule.ActionConfig{Body: "b", To: []string{"ops@example.com"}},
		ExecuteIf: []rule.Condition{
			{FieldPath: "severity", Operator: rule.OpEquals, Value: "critical", Group: 1},
		},
	}}

	payload := map[string]any{"severity": "info"}
	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, payload))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionSkipped, results[0].Status)
	assert.Empty(t, f.notifier.sent)
}

func TestExecutorExecuteIfSeesEarlierResults(t *testing.T) {
	f := newExecutorFixture()
	f.webhooks.failures = 100

	actions := []rule.Action{
		{
			Type:       rule.ActionWebhook,
			Config:     rule.ActionConfig{URL: "https://example.com/hook"},
			OrderIndex: 1,
		},
		{
			Type:       rule.ActionEmail,
			Config:     rule.ActionConfig{Body: "webhook failed", To: []string{"ops@example.com"}},
			OrderIndex: 2,
			ExecuteIf: []rule.Condition{
				{FieldPath: "actions.1.status", Operator: rule.OpEquals, Value: "failed", Group: 1},
			},
		},
	}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, results, 2)
	assert.Equal(t, rule.ActionFailed, results[0].Status)
	assert.Equal(t, rule.ActionSuccess, results[1].Status)
	assert.Len(t, f.notifier.sent, 1)
}

func TestExecutorNotificationRecipientFiltering(t *testing.T) {
	f := newExecutorFixture() // clock at 12:00

	recipients := []rule.Recipient{
		{Type: "user", Identifier: "email-user", Methods: []string{"email"}},
		{Type: "user", Identifier: "sms-only", Methods: []string{"sms"}},
		{
			Type: "user", Identifier: "quiet-user", Methods: []string{"email"},
			QuietHours: &rule.QuietHours{Start: "09:00", End: "17:00"},
		},
	}

	actions := []rule.Action{{
		Type:   rule.ActionEmail,
		Config: rule.ActionConfig{Body: "hello", To: []string{"extra@example.com"}},
	}}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, recipients, nil))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionSuccess, results[0].Status)
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{"email-user", "extra@example.com"}, f.notifier.sent[0].Recipients)
	assert.Equal(t, 1, results[0].Output["suppressed"])
}

func TestExecutorNotificationNoRecipientsIsSuccess(t *testing.T) {
	f := newExecutorFixture()

	actions := []rule.Action{{
		Type:   rule.ActionEmail,
		Config: rule.ActionConfig{Body: "hello"},
	}}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionSuccess, results[0].Status)
	assert.Empty(t, f.notifier.sent)
}

func TestExecutorRecordActions(t *testing.T) {
	f := newExecutorFixture()
	ctx := context.Background()

	create := []rule.Action{{
		Type:   rule.ActionCreateRecord,
		Config: rule.ActionConfig{Table: "incidents", Fields: map[string]any{"title": "outage"}},
	}}
	results := f.executor.Run(ctx, create, newExecContext(f, nil, nil))
	require.Equal(t, rule.ActionSuccess, results[0].Status)
	id := results[0].Output["recordId"].(string)

	update := []rule.Action{{
		Type:   rule.ActionUpdateRecord,
		Config: rule.ActionConfig{Table: "incidents", RecordID: id, Fields: map[string]any{"status": "ack"}},
	}}
	results = f.executor.Run(ctx, update, newExecContext(f, nil, nil))
	require.Equal(t, rule.ActionSuccess, results[0].Status)

	rec, ok := f.records.Get("incidents", id)
	require.True(t, ok)
	assert.Equal(t, "ack", rec["status"])

	del := []rule.Action{{
		Type:   rule.ActionDeleteRecord,
		Config: rule.ActionConfig{Table: "incidents", RecordID: id},
	}}
	results = f.executor.Run(ctx, del, newExecContext(f, nil, nil))
	require.Equal(t, rule.ActionSuccess, results[0].Status)
	_, ok = f.records.Get("incidents", id)
	assert.False(t, ok)
}

func TestExecutorEscalateDelegates(t *testing.T) {
	f := newExecutorFixture()

	levels := []rule.EscalationLevel{{Level: 1, DelayMinutes: 15}}
	actions := []rule.Action{{
		Type:   rule.ActionEscalate,
		Config: rule.ActionConfig{Levels: levels},
	}}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionSuccess, results[0].Status)
	assert.Equal(t, "esc-1", results[0].Output["escalationId"])
	assert.Equal(t, levels, f.escalator.levels)
}

func TestExecutorStartWorkflowDelegates(t *testing.T) {
	f := newExecutorFixture()

	payload := map[string]any{"claim": "c-9"}
	actions := []rule.Action{{
		Type:   rule.ActionStartWorkflow,
		Config: rule.ActionConfig{WorkflowID: "wf-7"},
	}}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, payload))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionSuccess, results[0].Status)
	assert.Equal(t, "wf-exec-1", results[0].Output["workflowExecutionId"])
	assert.Equal(t, "wf-7", f.starter.workflowID)
	// Trigger data flows in as default input.
	assert.Equal(t, payload, f.starter.input)
}

func TestExecutorScriptNotConfigured(t *testing.T) {
	f := newExecutorFixture()

	actions := []rule.Action{{
		Type:   rule.ActionScript,
		Config: rule.ActionConfig{ScriptRef: "cleanup.js"},
	}}

	results := f.executor.Run(context.Background(), actions, newExecContext(f, nil, nil))

	require.Len(t, results, 1)
	assert.Equal(t, rule.ActionFailed, results[0].Status)
}
