// Package condition evaluates condition-step predicates over subscriber attributes.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/nurture/pkg/models"
)

// Evaluator is a pure predicate over a subscriber snapshot. The zero value is ready to use.
type Evaluator struct{}

// Eval applies op to the subscriber field and value. It never fails: missing
// fields, unknown operators and non-numeric comparands evaluate to false,
// except not_exists which is true for a missing field.
func (Evaluator) Eval(s *models.Subscriber, field string, op models.ConditionOperator, value string) bool {
	var (
		actual  any
		present bool
	)

	if s != nil {
		actual, present = s.Attribute(field)
	}

	switch op {
	case models.OperatorExists:
		return present
	case models.OperatorNotExists:
		return !present
	}

	if !present {
		return false
	}

	switch op {
	case models.OperatorEquals:
		return equals(actual, value)
	case models.OperatorNotEquals:
		return !equals(actual, value)
	case models.OperatorContains:
		return contains(actual, value)
	case models.OperatorNotContains:
		return !contains(actual, value)
	case models.OperatorGreaterThan:
		return compare(actual, value, func(a, b float64) bool { return a > b })
	case models.OperatorLessThan:
		return compare(actual, value, func(a, b float64) bool { return a < b })
	case models.OperatorGreaterEqual:
		return compare(actual, value, func(a, b float64) bool { return a >= b })
	case models.OperatorLessEqual:
		return compare(actual, value, func(a, b float64) bool { return a <= b })
	default:
		return false
	}
}

// Eval evaluates with the zero Evaluator.
func Eval(s *models.Subscriber, field string, op models.ConditionOperator, value string) bool {
	return Evaluator{}.Eval(s, field, op, value)
}

func equals(actual any, value string) bool {
	if tags, ok := actual.([]string); ok {
		return len(tags) == 1 && strings.EqualFold(tags[0], value)
	}

	if a, ok := toNumber(actual); ok {
		if b, ok := toNumber(value); ok {
			return a == b
		}
	}

	return toString(actual) == value
}

func contains(actual any, value string) bool {
	switch v := actual.(type) {
	case []string:
		for _, item := range v {
			if strings.EqualFold(item, value) {
				return true
			}
		}

		return false
	case []any:
		for _, item := range v {
			if strings.EqualFold(toString(item), value) {
				return true
			}
		}

		return false
	default:
		return strings.Contains(strings.ToLower(toString(actual)), strings.ToLower(value))
	}
}

func compare(actual any, value string, cmp func(a, b float64) bool) bool {
	a, ok := toNumber(actual)
	if !ok {
		return false
	}

	b, ok := toNumber(value)
	if !ok {
		return false
	}

	return cmp(a, b)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
