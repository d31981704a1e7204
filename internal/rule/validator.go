package rule

import (
	"fmt"
	"regexp"

	"automation-engine/internal/scheduler"
)

var (
	// validFieldPathPattern matches dot/bracket field paths:
	// segments start with a letter or underscore and may carry [n] indexes.
	validFieldPathPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\[\d+\])*(\.[a-zA-Z_][a-zA-Z0-9_]*(\[\d+\])*)*$`)

	validDeliveryMethods = map[string]bool{
		"email": true,
		"sms":   true,
		"push":  true,
		"slack": true,
	}
)

// ValidateRule performs comprehensive definition-time validation of a rule.
// Catching malformed paths, bad regexes and unknown types here converts a
// class of runtime errors into save-time errors.
func ValidateRule(r *Rule) error {
	if r == nil {
		return &ValidationError{Field: "rule", Message: "rule cannot be nil"}
	}
	if r.ID == "" {
		return &ValidationError{Field: "id", Message: "rule id cannot be empty"}
	}
	if r.OrgID == "" {
		return &ValidationError{Field: "orgId", Message: "organization id cannot be empty"}
	}
	if r.Name == "" {
		return &ValidationError{Field: "name", Message: "rule name cannot be empty"}
	}

	if err := validateTrigger(r); err != nil {
		return err
	}
	if err := validateFrequency(r); err != nil {
		return err
	}

	for i := range r.Conditions {
		if err := validateCondition(&r.Conditions[i]); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("conditions[%d]", i),
				Message: err.Error(),
			}
		}
	}

	if len(r.Actions) == 0 {
		return &ValidationError{Field: "actions", Message: "at least one action is required"}
	}
	for i := range r.Actions {
		if err := validateAction(&r.Actions[i]); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("actions[%d]", i),
				Message: err.Error(),
			}
		}
	}

	for i := range r.Recipients {
		if err := validateRecipient(&r.Recipients[i]); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("recipients[%d]", i),
				Message: err.Error(),
			}
		}
	}

	return nil
}

func validateTrigger(r *Rule) error {
	switch r.TriggerType {
	case TriggerSchedule:
		if r.Trigger.Cron == "" {
			return &ValidationError{Field: "triggerConfig.cron", Message: "cron expression is required"}
		}
		if _, err := scheduler.ParseCron(r.Trigger.Cron); err != nil {
			return &ValidationError{Field: "triggerConfig.cron", Message: err.Error()}
		}
	case TriggerEvent:
		if r.Trigger.Event == "" {
			return &ValidationError{Field: "triggerConfig.event", Message: "event name is required"}
		}
	case TriggerThreshold:
		if r.Trigger.Metric == "" {
			return &ValidationError{Field: "triggerConfig.metric", Message: "metric name is required"}
		}
		switch r.Trigger.Operator {
		case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		default:
			return &ValidationError{
				Field:   "triggerConfig.operator",
				Message: fmt.Sprintf("invalid threshold operator: %s", r.Trigger.Operator),
			}
		}
	case TriggerManual:
	default:
		return &ValidationError{
			Field:   "triggerType",
			Message: fmt.Sprintf("invalid trigger type: %s", r.TriggerType),
		}
	}
	return nil
}

func validateFrequency(r *Rule) error {
	switch r.Frequency {
	case FrequencyOnce, FrequencyEveryOccurrence, FrequencyHourlyDigest, FrequencyDailyDigest, "":
	case FrequencyRateLimited:
		if r.RateLimitMinutes <= 0 {
			return &ValidationError{
				Field:   "rateLimitMinutes",
				Message: "rate limit minutes must be greater than 0",
			}
		}
	default:
		return &ValidationError{
			Field:   "frequency",
			Message: fmt.Sprintf("invalid frequency policy: %s", r.Frequency),
		}
	}
	return nil
}

// ValidateConditions validates a condition list.
func ValidateConditions(conditions []Condition) error {
	for i := range conditions {
		if err := validateCondition(&conditions[i]); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// validateCondition validates a single condition.
func validateCondition(c *Condition) error {
	if c.FieldPath == "" {
		return fmt.Errorf("field path cannot be empty")
	}
	if !validFieldPathPattern.MatchString(c.FieldPath) {
		return fmt.Errorf("invalid field path: %s", c.FieldPath)
	}
	if !ValidOperators[c.Operator] {
		return fmt.Errorf("invalid operator: %s", c.Operator)
	}

	switch c.Operator {
	case OpRegexMatch:
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("regex pattern must be a string")
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex pattern: %s", err)
		}
	case OpIn, OpNotIn:
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("%s value must be a collection", c.Operator)
		}
	case OpBetween:
		bounds, ok := c.Value.([]any)
		if !ok || len(bounds) != 2 {
			return fmt.Errorf("between value must be a 2-tuple")
		}
	}

	return nil
}

// validateAction checks an action's type-specific configuration.
func validateAction(a *Action) error {
	if !ValidActionTypes[a.Type] {
		return fmt.Errorf("invalid action type: %s", a.Type)
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if a.RetryDelaySeconds < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	for i := range a.ExecuteIf {
		if err := validateCondition(&a.ExecuteIf[i]); err != nil {
			return fmt.Errorf("executeIfCondition[%d]: %s", i, err)
		}
	}

	cfg := &a.Config
	switch a.Type {
	case ActionEmail, ActionSMS, ActionPush, ActionSlack:
		if cfg.Body == "" {
			return fmt.Errorf("notification body cannot be empty")
		}
	case ActionWebhook:
		if cfg.URL == "" {
			return fmt.Errorf("webhook url cannot be empty")
		}
	case ActionTask:
		if cfg.Title == "" {
			return fmt.Errorf("task title cannot be empty")
		}
	case ActionCreateRecord:
		if cfg.Table == "" {
			return fmt.Errorf("record table cannot be empty")
		}
		if len(cfg.Fields) == 0 {
			return fmt.Errorf("record fields cannot be empty")
		}
	case ActionUpdateRecord:
		if cfg.Table == "" || cfg.RecordID == "" {
			return fmt.Errorf("record table and id are required")
		}
		if len(cfg.Fields) == 0 {
			return fmt.Errorf("record fields cannot be empty")
		}
	case ActionDeleteRecord:
		if cfg.Table == "" || cfg.RecordID == "" {
			return fmt.Errorf("record table and id are required")
		}
	case ActionEscalate:
		if err := ValidateEscalationLevels(cfg.Levels); err != nil {
			return err
		}
	case ActionScript:
		if cfg.ScriptRef == "" {
			return fmt.Errorf("script reference cannot be empty")
		}
	case ActionStartWorkflow:
		if cfg.WorkflowID == "" {
			return fmt.Errorf("workflow id cannot be empty")
		}
	}

	return nil
}

// ValidateEscalationLevels checks an escalation chain: levels are numbered
// 1..n in order, with non-negative delays.
func ValidateEscalationLevels(levels []EscalationLevel) error {
	if len(levels) == 0 {
		return fmt.Errorf("at least one escalation level is required")
	}
	for i := range levels {
		l := &levels[i]
		if l.Level != i+1 {
			return fmt.Errorf("escalation levels must be numbered sequentially from 1, got %d at position %d", l.Level, i)
		}
		if l.DelayMinutes < 0 {
			return fmt.Errorf("escalation level %d: delay minutes cannot be negative", l.Level)
		}
		for j := range l.Actions {
			if l.Actions[j].Type == ActionEscalate {
				return fmt.Errorf("escalation level %d: nested escalate actions are not allowed", l.Level)
			}
			if err := validateAction(&l.Actions[j]); err != nil {
				return fmt.Errorf("escalation level %d: %s", l.Level, err)
			}
		}
		for j := range l.Recipients {
			if err := validateRecipient(&l.Recipients[j]); err != nil {
				return fmt.Errorf("escalation level %d: %s", l.Level, err)
			}
		}
	}
	return nil
}

func validateRecipient(r *Recipient) error {
	if r.Identifier == "" {
		return fmt.Errorf("recipient identifier cannot be empty")
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("recipient must have at least one delivery method")
	}
	for _, m := range r.Methods {
		if !validDeliveryMethods[m] {
			return fmt.Errorf("invalid delivery method: %s", m)
		}
	}
	if r.QuietHours != nil {
		if _, err := parseClock(r.QuietHours.Start); err != nil {
			return fmt.Errorf("invalid quiet hours start: %s", r.QuietHours.Start)
		}
		if _, err := parseClock(r.QuietHours.End); err != nil {
			return fmt.Errorf("invalid quiet hours end: %s", r.QuietHours.End)
		}
	}
	return nil
}
