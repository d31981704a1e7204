package workflow

import (
	"context"
	"fmt"
	"time"

	"automation-engine/internal/rule"
)

// StepType is the closed set of workflow step kinds.
type StepType string

const (
	StepSendNotification StepType = "send_notification"
	StepUpdateField      StepType = "update_field"
	StepCreateRecord     StepType = "create_record"
	StepDeleteRecord     StepType = "delete_record"
	StepCallAPI          StepType = "call_api"
	StepSendWebhook      StepType = "send_webhook"
	StepRunQuery         StepType = "run_query"
	StepBranchCondition  StepType = "branch_condition"
	StepLoop             StepType = "loop"
	StepWaitForDuration  StepType = "wait_for_duration"
	StepWaitForCondition StepType = "wait_for_condition"
)

// ValidStepTypes contains all valid step types.
var ValidStepTypes = map[StepType]bool{
	StepSendNotification: true,
	StepUpdateField:      true,
	StepCreateRecord:     true,
	StepDeleteRecord:     true,
	StepCallAPI:          true,
	StepSendWebhook:      true,
	StepRunQuery:         true,
	StepBranchCondition:  true,
	StepLoop:             true,
	StepWaitForDuration:  true,
	StepWaitForCondition: true,
}

// StepConfig is a union discriminated by the step's Type; only the active
// variant's fields are set, enforced by the validator at save time.
type StepConfig struct {
	// send_notification
	NotifyType string   `json:"notifyType,omitempty"` // email, sms, push, slack
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
	Priority   string   `json:"priority,omitempty"`

	// update_field / create_record / delete_record
	Table    string         `json:"table,omitempty"`
	RecordID string         `json:"recordId,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`

	// call_api / send_webhook
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`

	// run_query
	Query     string `json:"query,omitempty"`
	ResultVar string `json:"resultVar,omitempty"`

	// branch_condition: jump targets, 1-based step numbers. A zero
	// FalseStep means fall through to the next step.
	TrueStep  int `json:"trueStep,omitempty"`
	FalseStep int `json:"falseStep,omitempty"`

	// loop: jump back to TargetStep while the step's conditions hold,
	// capped by MaxIterations.
	TargetStep    int `json:"targetStep,omitempty"`
	MaxIterations int `json:"maxIterations,omitempty"`

	// wait_for_duration
	DurationSeconds int `json:"durationSeconds,omitempty"`
}

// RetryConfig is a per-step retry policy with a fixed delay.
type RetryConfig struct {
	MaxRetries   int `json:"maxRetries"`
	DelaySeconds int `json:"delaySeconds"`
}

// Step is one addressable unit of a workflow, identified by its 1-based
// Step number.
type Step struct {
	Step       int              `json:"step"`
	Type       StepType         `json:"type"`
	Name       string           `json:"name,omitempty"`
	Config     StepConfig       `json:"config"`
	Conditions []rule.Condition `json:"conditions,omitempty"`
	Retry      *RetryConfig     `json:"retryConfig,omitempty"`
}

// Definition is an organization-owned workflow.
type Definition struct {
	ID          string             `json:"id"`
	OrgID       string             `json:"orgId"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	TriggerType rule.TriggerType   `json:"triggerType"`
	Trigger     rule.TriggerConfig `json:"triggerConfig"`
	Steps       []Step             `json:"workflowSteps"`
	Enabled     bool               `json:"enabled"`
	Version     int                `json:"version"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// ExecStatus is the workflow execution lifecycle.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecPaused    ExecStatus = "paused"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecCancelled
}

// Execution is one invocation of a workflow. It is the sole source of
// truth for resuming a suspended interpretation: no engine process state
// survives a suspension boundary.
type Execution struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflowId"`
	OrgID      string `json:"orgId"`

	Status      ExecStatus     `json:"status"`
	CurrentStep int            `json:"currentStep"`
	StepResults map[string]any `json:"stepResults"`
	Variables   map[string]any `json:"variables"`

	StartedAt   time.Time `json:"startedAt"`
	PausedAt    time.Time `json:"pausedAt,omitempty"`
	ResumeAt    time.Time `json:"resumeAt,omitempty"` // zero for condition waits
	ResumedAt   time.Time `json:"resumedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt,omitempty"`

	FailedStep   int    `json:"failedStep,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// CancelRequested is honored at the next step boundary, never mid
	// in-flight external call.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	// Revision guards concurrent state updates via compare-and-set.
	Revision int `json:"revision"`
}

// Store persists workflow definitions and executions.
type Store interface {
	SaveDefinition(ctx context.Context, d *Definition) error
	GetDefinition(ctx context.Context, id string) (*Definition, error)

	// FindEnabledDefinitions returns enabled workflows for an organization
	// and trigger type. An empty orgID matches every organization.
	FindEnabledDefinitions(ctx context.Context, orgID string, t rule.TriggerType) ([]*Definition, error)

	InsertExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// UpdateExecution persists new execution state if the stored revision
	// still matches e.Revision; on success the stored revision (and
	// e.Revision) are incremented. Returns false on a lost race.
	UpdateExecution(ctx context.Context, e *Execution) (bool, error)

	// RequestCancel flags a non-terminal execution for cancellation.
	RequestCancel(ctx context.Context, id string) (bool, error)

	// DueResumes returns paused executions whose resumeAt has passed.
	DueResumes(ctx context.Context, now time.Time) ([]*Execution, error)
}

func (s *Step) label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step %d", s.Step)
}
