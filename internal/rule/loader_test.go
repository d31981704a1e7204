package rule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/logger"
)

const jsonRules = `[
  {
    "id": "r-json",
    "orgId": "org-1",
    "name": "json rule",
    "triggerType": "event",
    "triggerConfig": {"event": "order.created"},
    "frequency": "every_occurrence",
    "conditions": [
      {"fieldPath": "total", "operator": "greater_than", "value": 100, "conditionGroup": 1, "orderIndex": 1}
    ],
    "actions": [
      {"actionType": "email", "actionConfig": {"body": "big order", "to": ["sales@example.com"]}, "orderIndex": 1}
    ],
    "enabled": true
  }
]`

const yamlRules = `
- id: r-yaml
  orgId: org-1
  name: yaml rule
  triggerType: schedule
  triggerConfig:
    cron: "0 9 * * 1"
  frequency: once
  actions:
    - actionType: webhook
      actionConfig:
        url: https://example.com/hook
      orderIndex: 1
  enabled: true
`

func TestLoaderLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(jsonRules), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(yamlRules), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not rules"), 0o644))

	loader := NewLoader(logger.NewNop())
	rules, err := loader.LoadFromDirectory(dir)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	byID := map[string]*Rule{}
	for i := range rules {
		byID[rules[i].ID] = &rules[i]
	}

	jr := byID["r-json"]
	require.NotNil(t, jr)
	assert.Equal(t, TriggerEvent, jr.TriggerType)
	assert.Equal(t, "order.created", jr.Trigger.Event)
	require.Len(t, jr.Conditions, 1)
	assert.Equal(t, 1, jr.Conditions[0].Group)

	yr := byID["r-yaml"]
	require.NotNil(t, yr)
	assert.Equal(t, TriggerSchedule, yr.TriggerType)
	assert.Equal(t, "0 9 * * 1", yr.Trigger.Cron)
	assert.Equal(t, FrequencyOnce, yr.Frequency)
	assert.Equal(t, ActionWebhook, yr.Actions[0].Type)
}

func TestLoaderInvalidDefinitionFailsLoad(t *testing.T) {
	dir := t.TempDir()
	bad := `[{"id": "r-bad", "orgId": "org-1", "name": "bad", "triggerType": "event", "triggerConfig": {}, "actions": []}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(bad), 0o644))

	loader := NewLoader(logger.NewNop())
	_, err := loader.LoadFromDirectory(dir)
	assert.Error(t, err)
}

func TestLoaderUnparseableFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	loader := NewLoader(logger.NewNop())
	_, err := loader.LoadFromDirectory(dir)
	assert.Error(t, err)
}
