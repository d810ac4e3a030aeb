package workflow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elena-cav/stepflow/pkg/datapath"
	"github.com/elena-cav/stepflow/pkg/models"
)

var ErrNoChoiceMatched = errors.New("no choice rule matched and no default is set")

// SelectChoice returns the target of the first rule matching data, or the
// state's default when none match.
func SelectChoice(state *models.State, data any) (string, error) {
	for i := range state.Choices {
		matched, err := Evaluate(&state.Choices[i], data)
		if err != nil {
			return "", fmt.Errorf("choice rule %d: %w", i, err)
		}

		if matched {
			return state.Choices[i].Next, nil
		}
	}

	if state.Default == "" {
		return "", ErrNoChoiceMatched
	}

	return state.Default, nil
}

// Evaluate applies one rule to data. Comparisons are typed: a number operator
// never matches a string and a string operator never matches a number. A
// missing variable only satisfies is_present=false.
func Evaluate(rule *models.ChoiceRule, data any) (bool, error) {
	switch {
	case len(rule.And) > 0:
		for i := range rule.And {
			matched, err := Evaluate(&rule.And[i], data)
			if err != nil || !matched {
				return false, err
			}
		}

		return true, nil
	case len(rule.Or) > 0:
		for i := range rule.Or {
			matched, err := Evaluate(&rule.Or[i], data)
			if err != nil || matched {
				return matched, err
			}
		}

		return false, nil
	case rule.Not != nil:
		matched, err := Evaluate(rule.Not, data)

		return !matched && err == nil, err
	}

	value, err := datapath.Get(data, rule.Variable)
	present := err == nil

	if err != nil && !errors.Is(err, datapath.ErrPathNotFound) {
		return false, err
	}

	if rule.IsPresent != nil {
		return present == *rule.IsPresent, nil
	}

	if !present {
		return false, nil
	}

	return compare(rule, value), nil
}

func compare(rule *models.ChoiceRule, value any) bool {
	switch {
	case rule.StringEquals != nil:
		s, ok := value.(string)

		return ok && s == *rule.StringEquals
	case rule.BooleanEquals != nil:
		b, ok := value.(bool)

		return ok && b == *rule.BooleanEquals
	}

	n, ok := toNumber(value)
	if !ok {
		return false
	}

	switch {
	case rule.NumberEquals != nil:
		return n == *rule.NumberEquals
	case rule.NumberLessThan != nil:
		return n < *rule.NumberLessThan
	case rule.NumberLessThanEquals != nil:
		return n <= *rule.NumberLessThanEquals
	case rule.NumberGreaterThan != nil:
		return n > *rule.NumberGreaterThan
	case rule.NumberGreaterThanEquals != nil:
		return n >= *rule.NumberGreaterThanEquals
	default:
		return false
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
