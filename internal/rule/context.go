package rule

import (
	"strconv"
	"time"
)

// ExecContext is the explicit, serializable execution context threaded
// through action execution. It accumulates trigger data plus prior action
// results so later executeIf conditions can reference earlier outcomes
// under "actions.<orderIndex>".
type ExecContext struct {
	OrgID       string         `json:"orgId"`
	RuleID      string         `json:"ruleId"`
	ExecutionID string         `json:"executionId"`
	TriggeredBy TriggerType    `json:"triggeredBy"`
	TriggerData map[string]any `json:"triggerData,omitempty"`
	Recipients  []Recipient    `json:"recipients,omitempty"`
	Results     map[string]any `json:"results,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
}

// NewExecContext builds the context for one firing.
func NewExecContext(r *Rule, executionID string, trigger TriggerType, payload map[string]any, startedAt time.Time) *ExecContext {
	return &ExecContext{
		OrgID:       r.OrgID,
		RuleID:      r.ID,
		ExecutionID: executionID,
		TriggeredBy: trigger,
		TriggerData: payload,
		Recipients:  r.Recipients,
		Results:     make(map[string]any),
		StartedAt:   startedAt,
	}
}

// View returns the payload seen by executeIf conditions: the trigger data
// with prior action results mounted under "actions".
func (c *ExecContext) View() map[string]any {
	view := make(map[string]any, len(c.TriggerData)+1)
	for k, v := range c.TriggerData {
		view[k] = v
	}
	view["actions"] = c.Results
	return view
}

// RecordResult stores an action's outcome under its order index.
func (c *ExecContext) RecordResult(orderIndex int, status ActionStatus, output map[string]any, errMsg string) {
	result := map[string]any{
		"status": string(status),
	}
	if len(output) > 0 {
		result["output"] = output
	}
	if errMsg != "" {
		result["error"] = errMsg
	}
	c.Results[strconv.Itoa(orderIndex)] = result
}
