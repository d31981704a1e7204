package workflow

import (
	"fmt"

	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
)

// ValidateDefinition performs definition-time validation of a workflow.
// Step numbering, jump targets and per-type config are all checked here so
// the interpreter never has to reason about malformed definitions.
func ValidateDefinition(d *Definition) error {
	if d == nil {
		return &rule.ValidationError{Field: "workflow", Message: "workflow cannot be nil"}
	}
	if d.ID == "" {
		return &rule.ValidationError{Field: "id", Message: "workflow id cannot be empty"}
	}
	if d.OrgID == "" {
		return &rule.ValidationError{Field: "orgId", Message: "organization id cannot be empty"}
	}
	if d.Name == "" {
		return &rule.ValidationError{Field: "name", Message: "workflow name cannot be empty"}
	}
	if err := validateWorkflowTrigger(d); err != nil {
		return err
	}

	if len(d.Steps) == 0 {
		return &rule.ValidationError{Field: "workflowSteps", Message: "at least one step is required"}
	}
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.Step != i+1 {
			return &rule.ValidationError{
				Field:   fmt.Sprintf("workflowSteps[%d].step", i),
				Message: fmt.Sprintf("steps must be numbered sequentially from 1, got %d", step.Step),
			}
		}
		if err := validateStep(step, len(d.Steps)); err != nil {
			return &rule.ValidationError{
				Field:   fmt.Sprintf("workflowSteps[%d]", i),
				Message: err.Error(),
			}
		}
	}
	return nil
}

func validateWorkflowTrigger(d *Definition) error {
	switch d.TriggerType {
	case rule.TriggerSchedule:
		if d.Trigger.Cron == "" {
			return &rule.ValidationError{Field: "triggerConfig.cron", Message: "cron expression is required"}
		}
		if _, err := scheduler.ParseCron(d.Trigger.Cron); err != nil {
			return &rule.ValidationError{Field: "triggerConfig.cron", Message: err.Error()}
		}
	case rule.TriggerEvent:
		if d.Trigger.Event == "" {
			return &rule.ValidationError{Field: "triggerConfig.event", Message: "event name is required"}
		}
	case rule.TriggerManual:
	default:
		return &rule.ValidationError{
			Field:   "triggerType",
			Message: fmt.Sprintf("invalid workflow trigger type: %s", d.TriggerType),
		}
	}
	return nil
}

// validateStep checks one step's type-specific configuration. Jump targets
// may point one past the last step (meaning "complete").
func validateStep(s *Step, total int) error {
	if !ValidStepTypes[s.Type] {
		return fmt.Errorf("invalid step type: %s", s.Type)
	}
	if s.Retry != nil {
		if s.Retry.MaxRetries < 0 {
			return fmt.Errorf("max retries cannot be negative")
		}
		if s.Retry.DelaySeconds < 0 {
			return fmt.Errorf("retry delay cannot be negative")
		}
	}
	if err := rule.ValidateConditions(s.Conditions); err != nil {
		return err
	}

	cfg := &s.Config
	switch s.Type {
	case StepSendNotification:
		if cfg.NotifyType == "" {
			return fmt.Errorf("notification type is required")
		}
		if len(cfg.Recipients) == 0 {
			return fmt.Errorf("at least one recipient is required")
		}
	case StepUpdateField:
		if cfg.Table == "" || cfg.RecordID == "" {
			return fmt.Errorf("table and record id are required")
		}
		if len(cfg.Fields) == 0 {
			return fmt.Errorf("at least one field is required")
		}
	case StepCreateRecord:
		if cfg.Table == "" {
			return fmt.Errorf("table is required")
		}
	case StepDeleteRecord:
		if cfg.Table == "" || cfg.RecordID == "" {
			return fmt.Errorf("table and record id are required")
		}
	case StepCallAPI, StepSendWebhook:
		if cfg.URL == "" {
			return fmt.Errorf("url is required")
		}
		if cfg.TimeoutSeconds < 0 {
			return fmt.Errorf("timeout cannot be negative")
		}
	case StepRunQuery:
		if cfg.Query == "" {
			return fmt.Errorf("query is required")
		}
	case StepBranchCondition:
		if len(s.Conditions) == 0 {
			return fmt.Errorf("branch requires at least one condition")
		}
		if cfg.TrueStep < 1 || cfg.TrueStep > total+1 {
			return fmt.Errorf("true branch target %d is out of range", cfg.TrueStep)
		}
		if cfg.FalseStep != 0 && (cfg.FalseStep < 1 || cfg.FalseStep > total+1) {
			return fmt.Errorf("false branch target %d is out of range", cfg.FalseStep)
		}
	case StepLoop:
		if len(s.Conditions) == 0 {
			return fmt.Errorf("loop requires at least one condition")
		}
		if cfg.TargetStep < 1 || cfg.TargetStep >= s.Step {
			return fmt.Errorf("loop target %d must be an earlier step", cfg.TargetStep)
		}
		if cfg.MaxIterations <= 0 {
			return fmt.Errorf("max iterations must be greater than 0")
		}
	case StepWaitForDuration:
		if cfg.DurationSeconds <= 0 {
			return fmt.Errorf("duration must be greater than 0")
		}
	case StepWaitForCondition:
		if len(s.Conditions) == 0 {
			return fmt.Errorf("wait requires at least one condition")
		}
	}
	return nil
}
