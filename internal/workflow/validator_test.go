package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/rule"
)

func validTestDefinition() *Definition {
	return &Definition{
		ID:          "wf-1",
		OrgID:       "org-1",
		Name:        "claim intake",
		TriggerType: rule.TriggerManual,
		Steps: []Step{
			{
				Step: 1,
				Type: StepSendNotification,
				Config: StepConfig{
					NotifyType: "email",
					Recipients: []string{"team@example.com"},
					Body:       "new claim",
				},
			},
			{
				Step: 2,
				Type: StepBranchCondition,
				Config: StepConfig{
					TrueStep:  3,
					FalseStep: 4,
				},
				Conditions: []rule.Condition{
					{FieldPath: "amount", Operator: rule.OpGreaterThan, Value: 1000, Group: 1},
				},
			},
			{
				Step: 3,
				Type: StepCreateRecord,
				Config: StepConfig{
					Table:  "reviews",
					Fields: map[string]any{"priority": "high"},
				},
			},
			{
				Step:   4,
				Type:   StepWaitForDuration,
				Config: StepConfig{DurationSeconds: 60},
			},
		},
		Enabled: true,
	}
}

func TestValidateDefinitionAcceptsValid(t *testing.T) {
	require.NoError(t, ValidateDefinition(validTestDefinition()))
}

func TestValidateDefinitionRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"missing id", func(d *Definition) { d.ID = "" }},
		{"missing org", func(d *Definition) { d.OrgID = "" }},
		{"missing name", func(d *Definition) { d.Name = "" }},
		{"unknown trigger type", func(d *Definition) { d.TriggerType = "threshold" }},
		{"schedule without cron", func(d *Definition) {
			d.TriggerType = rule.TriggerSchedule
		}},
		{"event without name", func(d *Definition) {
			d.TriggerType = rule.TriggerEvent
		}},
		{"no steps", func(d *Definition) { d.Steps = nil }},
		{"non-sequential numbering", func(d *Definition) { d.Steps[1].Step = 7 }},
		{"unknown step type", func(d *Definition) { d.Steps[0].Type = "teleport" }},
		{"notification without recipients", func(d *Definition) {
			d.Steps[0].Config.Recipients = nil
		}},
		{"branch target out of range", func(d *Definition) {
			d.Steps[1].Config.TrueStep = 9
		}},
		{"branch without conditions", func(d *Definition) {
			d.Steps[1].Conditions = nil
		}},
		{"branch with invalid condition", func(d *Definition) {
			d.Steps[1].Conditions[0].Operator = "resembles"
		}},
		{"wait with zero duration", func(d *Definition) {
			d.Steps[3].Config.DurationSeconds = 0
		}},
		{"negative retries", func(d *Definition) {
			d.Steps[0].Retry = &RetryConfig{MaxRetries: -1}
		}},
		{"create record without table", func(d *Definition) {
			d.Steps[2].Config.Table = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validTestDefinition()
			tt.mutate(d)
			assert.Error(t, ValidateDefinition(d))
		})
	}
}

func TestValidateDefinitionLoopTargets(t *testing.T) {
	def := func(target, max int) *Definition {
		return &Definition{
			ID:          "wf-loop",
			OrgID:       "org-1",
			Name:        "poller",
			TriggerType: rule.TriggerManual,
			Steps: []Step{
				{
					Step: 1,
					Type: StepSendWebhook,
					Config: StepConfig{
						URL: "https://example.com/poll",
					},
				},
				{
					Step: 2,
					Type: StepLoop,
					Config: StepConfig{
						TargetStep:    target,
						MaxIterations: max,
					},
					Conditions: []rule.Condition{
						{FieldPath: "pending", Operator: rule.OpEquals, Value: true, Group: 1},
					},
				},
			},
			Enabled: true,
		}
	}

	assert.NoError(t, ValidateDefinition(def(1, 5)))
	assert.Error(t, ValidateDefinition(def(2, 5)), "loop may not target itself")
	assert.Error(t, ValidateDefinition(def(0, 5)))
	assert.Error(t, ValidateDefinition(def(1, 0)), "iteration cap is required")
}
