package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateOperators(t *testing.T) {
	payload := map[string]any{
		"temperature": 28.5,
		"status":      "active",
		"tags":        []any{"prod", "edge"},
		"device": map[string]any{
			"name": "sensor-01",
		},
		"empty": nil,
	}

	tests := []struct {
		name      string
		condition Condition
		want      bool
	}{
		{
			name:      "equals match",
			condition: Condition{FieldPath: "status", Operator: OpEquals, Value: "active"},
			want:      true,
		},
		{
			name:      "equals numeric coercion",
			condition: Condition{FieldPath: "temperature", Operator: OpEquals, Value: "28.5"},
			want:      true,
		},
		{
			name:      "not equals on missing field",
			condition: Condition{FieldPath: "missing", Operator: OpNotEquals, Value: "x"},
			want:      true,
		},
		{
			name:      "greater than",
			condition: Condition{FieldPath: "temperature", Operator: OpGreaterThan, Value: 25},
			want:      true,
		},
		{
			name:      "greater than missing field",
			condition: Condition{FieldPath: "missing", Operator: OpGreaterThan, Value: 25},
			want:      false,
		},
		{
			name:      "less than or equal boundary",
			condition: Condition{FieldPath: "temperature", Operator: OpLessThanOrEqual, Value: 28.5},
			want:      true,
		},
		{
			name:      "contains on string",
			condition: Condition{FieldPath: "status", Operator: OpContains, Value: "act"},
			want:      true,
		},
		{
			name:      "contains on array",
			condition: Condition{FieldPath: "tags", Operator: OpContains, Value: "prod"},
			want:      true,
		},
		{
			name:      "not contains",
			condition: Condition{FieldPath: "tags", Operator: OpNotContains, Value: "staging"},
			want:      true,
		},
		{
			name:      "starts with nested path",
			condition: Condition{FieldPath: "device.name", Operator: OpStartsWith, Value: "sensor"},
			want:      true,
		},
		{
			name:      "ends with",
			condition: Condition{FieldPath: "device.name", Operator: OpEndsWith, Value: "-01"},
			want:      true,
		},
		{
			name:      "in collection",
			condition: Condition{FieldPath: "status", Operator: OpIn, Value: []any{"active", "standby"}},
			want:      true,
		},
		{
			name:      "not in collection",
			condition: Condition{FieldPath: "status", Operator: OpNotIn, Value: []any{"retired"}},
			want:      true,
		},
		{
			name:      "is null on nil value",
			condition: Condition{FieldPath: "empty", Operator: OpIsNull},
			want:      true,
		},
		{
			name:      "is null on missing field",
			condition: Condition{FieldPath: "missing", Operator: OpIsNull},
			want:      true,
		},
		{
			name:      "is not null",
			condition: Condition{FieldPath: "status", Operator: OpIsNotNull},
			want:      true,
		},
		{
			name:      "between inclusive bounds",
			condition: Condition{FieldPath: "temperature", Operator: OpBetween, Value: []any{28.5, 30}},
			want:      true,
		},
		{
			name:      "between outside bounds",
			condition: Condition{FieldPath: "temperature", Operator: OpBetween, Value: []any{30, 40}},
			want:      false,
		},
		{
			name:      "regex match",
			condition: Condition{FieldPath: "device.name", Operator: OpRegexMatch, Value: `^sensor-\d+$`},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, trace := Evaluate([]Condition{tt.condition}, payload)
			assert.Equal(t, tt.want, matched)
			require.Len(t, trace, 1)
			assert.Equal(t, tt.want, trace[0].Result)
		})
	}
}

func TestEvaluateEmptyConditions(t *testing.T) {
	matched, trace := Evaluate(nil, map[string]any{"x": 1})
	assert.True(t, matched)
	assert.Empty(t, trace)
}

func TestEvaluateInvalidRegexIsError(t *testing.T) {
	conditions := []Condition{
		{FieldPath: "name", Operator: OpRegexMatch, Value: "([unclosed"},
	}
	matched, trace := Evaluate(conditions, map[string]any{"name": "anything"})

	assert.False(t, matched)
	require.Len(t, trace, 1)
	assert.NotEmpty(t, trace[0].Error)
}

func TestEvaluateGroupsAndOrSemantics(t *testing.T) {
	payload := map[string]any{
		"severity": "critical",
		"source":   "api",
		"count":    3,
	}

	t.Run("and within group", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "severity", Operator: OpEquals, Value: "critical", Group: 1, OrderIndex: 1},
			{FieldPath: "source", Operator: OpEquals, Value: "api", Group: 1, OrderIndex: 2},
		}
		matched, _ := Evaluate(conditions, payload)
		assert.True(t, matched)
	})

	t.Run("and failure fails the group", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "severity", Operator: OpEquals, Value: "critical", Group: 1, OrderIndex: 1},
			{FieldPath: "source", Operator: OpEquals, Value: "cron", Group: 1, OrderIndex: 2},
		}
		matched, _ := Evaluate(conditions, payload)
		assert.False(t, matched)
	})

	t.Run("or across groups", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "severity", Operator: OpEquals, Value: "info", Group: 1, OrderIndex: 1},
			{FieldPath: "count", Operator: OpGreaterThan, Value: 2, Group: 2, OrderIndex: 1},
		}
		matched, _ := Evaluate(conditions, payload)
		assert.True(t, matched)
	})

	t.Run("or condition rescues its group", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "severity", Operator: OpEquals, Value: "info", Group: 1, OrderIndex: 1},
			{FieldPath: "source", Operator: OpEquals, Value: "api", Group: 1, OrderIndex: 2, Or: true},
		}
		matched, _ := Evaluate(conditions, payload)
		assert.True(t, matched)
	})

	t.Run("short circuit skips and rows after failure", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "severity", Operator: OpEquals, Value: "info", Group: 1, OrderIndex: 1},
			{FieldPath: "source", Operator: OpEquals, Value: "api", Group: 1, OrderIndex: 2},
			{FieldPath: "count", Operator: OpGreaterThan, Value: 1, Group: 1, OrderIndex: 3},
		}
		matched, trace := Evaluate(conditions, payload)
		assert.False(t, matched)
		// Only the failing first row is evaluated; later AND rows are skipped.
		assert.Len(t, trace, 1)
	})

	t.Run("short circuit stops at first matching group", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "severity", Operator: OpEquals, Value: "critical", Group: 1, OrderIndex: 1},
			{FieldPath: "count", Operator: OpGreaterThan, Value: 100, Group: 2, OrderIndex: 1},
		}
		matched, trace := Evaluate(conditions, payload)
		assert.True(t, matched)
		assert.Len(t, trace, 1)
	})

	t.Run("deterministic order regardless of input order", func(t *testing.T) {
		conditions := []Condition{
			{FieldPath: "count", Operator: OpGreaterThan, Value: 2, Group: 2, OrderIndex: 1},
			{FieldPath: "severity", Operator: OpEquals, Value: "critical", Group: 1, OrderIndex: 1},
		}
		matched, trace := Evaluate(conditions, payload)
		assert.True(t, matched)
		require.Len(t, trace, 1)
		assert.Equal(t, "severity", trace[0].FieldPath)
	})
}
