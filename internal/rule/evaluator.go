package rule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Evaluate runs a condition set against a payload. Conditions sharing a
// group are AND-combined in OrderIndex order; groups are OR-combined. A
// condition flagged Or contributes its result to the group with OR.
//
// The evaluator is deterministic and side-effect free. Within a group it
// stops evaluating AND rows once the AND leg has failed (remaining OR rows
// can still rescue the group); across groups it stops at the first matching
// group. Every evaluated condition leaves a trace entry.
func Evaluate(conditions []Condition, payload map[string]any) (bool, []ConditionEvaluation) {
	if len(conditions) == 0 {
		return true, nil
	}

	ordered := make([]Condition, len(conditions))
	copy(ordered, conditions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Group != ordered[j].Group {
			return ordered[i].Group < ordered[j].Group
		}
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	var trace []ConditionEvaluation
	matched := false

	for start := 0; start < len(ordered); {
		end := start
		for end < len(ordered) && ordered[end].Group == ordered[start].Group {
			end++
		}

		groupResult, groupTrace := evaluateGroup(ordered[start:end], payload)
		trace = append(trace, groupTrace...)
		if groupResult {
			matched = true
			break
		}
		start = end
	}

	return matched, trace
}

// evaluateGroup combines one group's rows: all AND rows must hold, any OR
// row may rescue the group on its own.
func evaluateGroup(group []Condition, payload map[string]any) (bool, []ConditionEvaluation) {
	var trace []ConditionEvaluation
	andOK := true
	hasAnd := false

	for i := range group {
		cond := &group[i]
		if !cond.Or {
			hasAnd = true
			if !andOK {
				// AND failure is already certain; skip the row.
				continue
			}
		}

		entry := evaluateCondition(cond, payload)
		trace = append(trace, entry)

		if cond.Or {
			if entry.Result {
				return true, trace
			}
			continue
		}
		if !entry.Result {
			andOK = false
		}
	}

	return hasAnd && andOK, trace
}

// evaluateCondition evaluates a single condition against the payload and
// records a trace entry. Evaluation errors (bad regex, malformed operand)
// count as non-match, never as a crash.
func evaluateCondition(cond *Condition, payload map[string]any) ConditionEvaluation {
	actual, found := ResolvePath(payload, cond.FieldPath)

	entry := ConditionEvaluation{
		FieldPath:     cond.FieldPath,
		Operator:      cond.Operator,
		ExpectedValue: cond.Value,
		ActualValue:   actual,
	}

	switch cond.Operator {
	case OpEquals:
		entry.Result = found && compareValues(actual, cond.Value) == 0
	case OpNotEquals:
		entry.Result = !found || compareValues(actual, cond.Value) != 0
	case OpGreaterThan:
		entry.Result = found && compareValues(actual, cond.Value) > 0
	case OpGreaterThanOrEqual:
		entry.Result = found && compareValues(actual, cond.Value) >= 0
	case OpLessThan:
		entry.Result = found && compareValues(actual, cond.Value) < 0
	case OpLessThanOrEqual:
		entry.Result = found && compareValues(actual, cond.Value) <= 0
	case OpContains:
		entry.Result = found && containsValue(actual, cond.Value)
	case OpNotContains:
		entry.Result = !found || !containsValue(actual, cond.Value)
	case OpStartsWith:
		entry.Result = found && hasAffix(actual, cond.Value, strings.HasPrefix)
	case OpEndsWith:
		entry.Result = found && hasAffix(actual, cond.Value, strings.HasSuffix)
	case OpIn:
		result, err := memberOf(actual, cond.Value)
		entry.Result = found && result
		setError(&entry, err)
	case OpNotIn:
		result, err := memberOf(actual, cond.Value)
		entry.Result = !found || !result
		setError(&entry, err)
	case OpIsNull:
		entry.Result = !found || actual == nil
	case OpIsNotNull:
		entry.Result = found && actual != nil
	case OpBetween:
		result, err := betweenValues(actual, cond.Value)
		entry.Result = found && result
		setError(&entry, err)
	case OpRegexMatch:
		result, err := matchesPattern(actual, cond.Value)
		entry.Result = found && result
		setError(&entry, err)
	default:
		entry.Error = fmt.Sprintf("unknown operator: %s", cond.Operator)
	}

	return entry
}

func setError(entry *ConditionEvaluation, err error) {
	if err != nil {
		entry.Error = err.Error()
		entry.Result = false
	}
}

// compareValues compares two values, attempting numeric coercion of both
// operands before falling back to lexicographic string comparison.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(toString(a), toString(b))
}

// containsValue checks string containment, or membership when the actual
// value is an array.
func containsValue(actual, expected any) bool {
	if arr, ok := actual.([]any); ok {
		for _, item := range arr {
			if compareValues(item, expected) == 0 {
				return true
			}
		}
		return false
	}
	return strings.Contains(toString(actual), toString(expected))
}

func hasAffix(actual, expected any, check func(string, string) bool) bool {
	return check(toString(actual), toString(expected))
}

// memberOf checks whether actual is one of the expected collection's values.
func memberOf(actual, expected any) (bool, error) {
	arr, ok := expected.([]any)
	if !ok {
		return false, fmt.Errorf("operator value must be a collection, got %T", expected)
	}
	for _, item := range arr {
		if compareValues(actual, item) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// betweenValues checks low <= actual <= high against an inclusive 2-tuple.
func betweenValues(actual, expected any) (bool, error) {
	bounds, ok := expected.([]any)
	if !ok || len(bounds) != 2 {
		return false, fmt.Errorf("between value must be a 2-tuple")
	}
	return compareValues(actual, bounds[0]) >= 0 && compareValues(actual, bounds[1]) <= 0, nil
}

// matchesPattern compiles the expected value as a regex. A non-compilable
// pattern is an evaluation error, not a crash.
func matchesPattern(actual, pattern any) (bool, error) {
	patternStr, ok := pattern.(string)
	if !ok {
		return false, fmt.Errorf("regex pattern must be a string, got %T", pattern)
	}
	re, err := regexp.Compile(patternStr)
	if err != nil {
		return false, fmt.Errorf("invalid regex pattern: %v", err)
	}
	return re.MatchString(toString(actual)), nil
}

// Type conversion helpers
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
