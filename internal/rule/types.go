package rule

import (
	"fmt"
	"time"
)

// TriggerType identifies what kind of input causes a rule to be evaluated.
type TriggerType string

const (
	TriggerSchedule  TriggerType = "schedule"
	TriggerEvent     TriggerType = "event"
	TriggerThreshold TriggerType = "threshold"
	TriggerManual    TriggerType = "manual"
)

// Frequency is the firing policy applied after conditions match.
type Frequency string

const (
	FrequencyOnce            Frequency = "once"
	FrequencyEveryOccurrence Frequency = "every_occurrence"
	FrequencyRateLimited     Frequency = "rate_limited"
	FrequencyHourlyDigest    Frequency = "hourly_digest"
	FrequencyDailyDigest     Frequency = "daily_digest"
)

// Severity classifies a rule or escalation level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// TriggerConfig is a union discriminated by the rule's TriggerType. Exactly
// the fields for the active variant are set; the validator enforces this at
// definition save time.
type TriggerConfig struct {
	// schedule
	Cron string `json:"cron,omitempty"`

	// event
	Event string `json:"event,omitempty"`

	// threshold
	Metric   string  `json:"metric,omitempty"`
	Operator string  `json:"operator,omitempty"`
	Value    float64 `json:"value,omitempty"`
}

// Rule is an automation rule owned by an organization.
type Rule struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"orgId"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	TriggerType TriggerType `json:"triggerType"`
	Trigger     TriggerConfig `json:"triggerConfig"`
	Severity    Severity    `json:"severity"`

	Frequency        Frequency `json:"frequency"`
	RateLimitMinutes int       `json:"rateLimitMinutes,omitempty"`

	// Conditions are immutable once a rule version is published; edits
	// create a new condition set under a bumped Version.
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions"`
	Recipients []Recipient `json:"recipients,omitempty"`

	Enabled bool `json:"enabled"`
	Deleted bool `json:"deleted,omitempty"`
	Version int  `json:"version"`

	// Execution counters, mutated only by the dispatcher.
	LastExecutedAt time.Time       `json:"lastExecutedAt,omitempty"`
	LastStatus     ExecutionStatus `json:"lastStatus,omitempty"`
	ExecutionCount uint64          `json:"executionCount"`
	FailureCount   uint64          `json:"failureCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Condition is a single comparison against a payload field. Conditions
// sharing a Group are AND-combined (ordered by OrderIndex); distinct groups
// are OR-combined. An Or condition contributes its result to the group with
// OR instead of AND.
type Condition struct {
	FieldPath  string `json:"fieldPath"`
	Operator   string `json:"operator"`
	Value      any    `json:"value,omitempty"`
	Group      int    `json:"conditionGroup"`
	Or         bool   `json:"isOrCondition,omitempty"`
	OrderIndex int    `json:"orderIndex"`
}

// Comparison operators understood by the evaluator.
const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpGreaterThan        = "greater_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThan           = "less_than"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpContains           = "contains"
	OpNotContains        = "not_contains"
	OpStartsWith         = "starts_with"
	OpEndsWith           = "ends_with"
	OpIn                 = "in"
	OpNotIn              = "not_in"
	OpIsNull             = "is_null"
	OpIsNotNull          = "is_not_null"
	OpBetween            = "between"
	OpRegexMatch         = "regex_match"
)

// ValidOperators contains all valid comparison operators.
var ValidOperators = map[string]bool{
	OpEquals:             true,
	OpNotEquals:          true,
	OpGreaterThan:        true,
	OpGreaterThanOrEqual: true,
	OpLessThan:           true,
	OpLessThanOrEqual:    true,
	OpContains:           true,
	OpNotContains:        true,
	OpStartsWith:         true,
	OpEndsWith:           true,
	OpIn:                 true,
	OpNotIn:              true,
	OpIsNull:             true,
	OpIsNotNull:          true,
	OpBetween:            true,
	OpRegexMatch:         true,
}

// ActionType is the closed set of action kinds a rule may run.
type ActionType string

const (
	ActionEmail         ActionType = "email"
	ActionSMS           ActionType = "sms"
	ActionPush          ActionType = "push"
	ActionSlack         ActionType = "slack"
	ActionWebhook       ActionType = "webhook"
	ActionTask          ActionType = "task"
	ActionCreateRecord  ActionType = "create_record"
	ActionUpdateRecord  ActionType = "update_record"
	ActionDeleteRecord  ActionType = "delete_record"
	ActionEscalate      ActionType = "escalate"
	ActionScript        ActionType = "script"
	ActionStartWorkflow ActionType = "start_workflow"
)

// ValidActionTypes contains all valid action types.
var ValidActionTypes = map[ActionType]bool{
	ActionEmail:         true,
	ActionSMS:           true,
	ActionPush:          true,
	ActionSlack:         true,
	ActionWebhook:       true,
	ActionTask:          true,
	ActionCreateRecord:  true,
	ActionUpdateRecord:  true,
	ActionDeleteRecord:  true,
	ActionEscalate:      true,
	ActionScript:        true,
	ActionStartWorkflow: true,
}

// ActionConfig is a union discriminated by the action's Type; only the
// active variant's fields are set, enforced by the validator.
type ActionConfig struct {
	// email / sms / push / slack
	Subject  string   `json:"subject,omitempty"`
	Body     string   `json:"body,omitempty"`
	Priority string   `json:"priority,omitempty"`
	To       []string `json:"to,omitempty"` // extra identifiers beyond rule recipients
	Channel  string   `json:"channel,omitempty"`

	// webhook
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`

	// task
	Title      string `json:"title,omitempty"`
	Assignee   string `json:"assignee,omitempty"`
	DueInHours int    `json:"dueInHours,omitempty"`

	// create_record / update_record / delete_record
	Table    string         `json:"table,omitempty"`
	RecordID string         `json:"recordId,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`

	// escalate
	Levels []EscalationLevel `json:"escalationLevels,omitempty"`

	// script
	ScriptRef string         `json:"scriptRef,omitempty"`
	Args      map[string]any `json:"args,omitempty"`

	// start_workflow
	WorkflowID string         `json:"workflowId,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// Action is one ordered, independently retryable side effect of a rule.
type Action struct {
	Type              ActionType   `json:"actionType"`
	Config            ActionConfig `json:"actionConfig"`
	OrderIndex        int          `json:"orderIndex"`
	ExecuteIf         []Condition  `json:"executeIfCondition,omitempty"`
	MaxRetries        int          `json:"maxRetries"`
	RetryDelaySeconds int          `json:"retryDelaySeconds"`
}

// EscalationLevel is one timed step in an escalation chain.
type EscalationLevel struct {
	Level        int         `json:"level"`
	DelayMinutes int         `json:"delayMinutes"`
	Recipients   []Recipient `json:"recipients,omitempty"`
	Actions      []Action    `json:"actions,omitempty"`
	Severity     Severity    `json:"severity,omitempty"`
}

// Recipient is a delivery target attached to a rule. It is consulted at
// delivery time only, never by control logic.
type Recipient struct {
	Type       string      `json:"type"` // user, team, external
	Identifier string      `json:"identifier"`
	Methods    []string    `json:"methods"` // email, sms, push, slack
	QuietHours *QuietHours `json:"quietHours,omitempty"`
}

// QuietHours is a daily window during which deliveries to the recipient are
// dropped. Times are "HH:MM"; a window may wrap midnight.
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// InQuietHours reports whether now falls inside the recipient's quiet-hours
// window. Malformed windows never suppress delivery.
func (r *Recipient) InQuietHours(now time.Time) bool {
	if r.QuietHours == nil {
		return false
	}
	start, err1 := parseClock(r.QuietHours.Start)
	end, err2 := parseClock(r.QuietHours.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps midnight, e.g. 22:00-07:00.
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ExecutionStatus is the lifecycle of one firing attempt.
type ExecutionStatus string

const (
	StatusPending     ExecutionStatus = "pending"
	StatusRunning     ExecutionStatus = "running"
	StatusSuccess     ExecutionStatus = "success"
	StatusFailed      ExecutionStatus = "failed"
	StatusSkipped     ExecutionStatus = "skipped"
	StatusRateLimited ExecutionStatus = "rate_limited"
)

// Terminal reports whether the status is final. Terminal executions are
// append-only.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusRateLimited:
		return true
	}
	return false
}

// ConditionEvaluation is one trace entry from the evaluator.
type ConditionEvaluation struct {
	FieldPath     string `json:"fieldPath"`
	Operator      string `json:"operator"`
	ExpectedValue any    `json:"expectedValue,omitempty"`
	ActualValue   any    `json:"actualValue,omitempty"`
	Result        bool   `json:"result"`
	Error         string `json:"error,omitempty"`
}

// ActionStatus is the terminal state of one action in a trace.
type ActionStatus string

const (
	ActionSuccess ActionStatus = "success"
	ActionFailed  ActionStatus = "failed"
	ActionSkipped ActionStatus = "skipped"
)

// ActionExecution is the kept trace of one action, final outcome only.
type ActionExecution struct {
	Type            ActionType     `json:"actionType"`
	OrderIndex      int            `json:"orderIndex"`
	Status          ActionStatus   `json:"status"`
	Attempts        int            `json:"attempts"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
	Output          map[string]any `json:"output,omitempty"`
}

// Execution records one firing attempt of a rule.
type Execution struct {
	ID             string                `json:"id"`
	RuleID         string                `json:"ruleId"`
	OrgID          string                `json:"orgId"`
	TriggeredBy    TriggerType           `json:"triggeredBy"`
	TriggerData    map[string]any        `json:"triggerData,omitempty"`
	Status         ExecutionStatus       `json:"status"`
	ConditionsMet  bool                  `json:"conditionsMet"`
	ConditionTrace []ConditionEvaluation `json:"conditionTrace,omitempty"`
	Actions        []ActionExecution     `json:"actionsExecuted,omitempty"`
	StartedAt      time.Time             `json:"startedAt"`
	CompletedAt    time.Time             `json:"completedAt,omitempty"`
	Error          string                `json:"errorMessage,omitempty"`
}

// MetricSample is one threshold trigger input.
type MetricSample struct {
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationError is a definition-time rejection.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
