package sheetsync

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ideamans/go-sheetsync/localstore"
)

// ErrInvalidQuery is wrapped by ValidateQuery failures.
var ErrInvalidQuery = errors.New("invalid query")

// Condition is a single column predicate.
type Condition struct {
	Column   string
	Operator string // ==, !=, >, >=, <, <=, in, between
	Value    any    // []any for in, [2]any or 2-element []any for between
}

// Query filters cached records. Conditions are ANDed.
type Query struct {
	Conditions []Condition
	Limit      int
	Offset     int
}

var validOperators = map[string]bool{
	"==": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true, "in": true, "between": true,
}

// ValidateQuery checks operators, operand shapes and paging bounds.
func ValidateQuery(q Query) error {
	for i, cond := range q.Conditions {
		if cond.Column == "" {
			return fmt.Errorf("%w: empty column name in condition %d", ErrInvalidQuery, i)
		}
		if !validOperators[cond.Operator] {
			return fmt.Errorf("%w: operator %q in condition %d", ErrInvalidQuery, cond.Operator, i)
		}
		if cond.Operator == "in" {
			if _, ok := cond.Value.([]any); !ok {
				return fmt.Errorf("%w: operator 'in' requires []any in condition %d", ErrInvalidQuery, i)
			}
		}
		if cond.Operator == "between" {
			if _, _, ok := bounds(cond.Value); !ok {
				return fmt.Errorf("%w: operator 'between' requires two bounds in condition %d", ErrInvalidQuery, i)
			}
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: limit and offset must be non-negative", ErrInvalidQuery)
	}
	return nil
}

// Matches reports whether r satisfies every condition of q.
func (r Record) Matches(q Query) bool {
	for _, cond := range q.Conditions {
		if !evalCondition(r[cond.Column], cond) {
			return false
		}
	}
	return true
}

// ApplyQuery filters records, then applies Offset and Limit.
func ApplyQuery(records []Record, q Query) ([]Record, error) {
	if err := ValidateQuery(q); err != nil {
		return nil, err
	}

	results := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Matches(q) {
			results = append(results, rec)
		}
	}

	if q.Offset >= len(results) {
		return []Record{}, nil
	}
	results = results[q.Offset:]
	if q.Limit > 0 && q.Limit < len(results) {
		results = results[:q.Limit]
	}
	return results, nil
}

func evalCondition(value any, cond Condition) bool {
	switch cond.Operator {
	case "==":
		return equalValues(value, cond.Value)
	case "!=":
		return !equalValues(value, cond.Value)
	case ">", ">=", "<", "<=":
		a, okA := toNumber(value)
		b, okB := toNumber(cond.Value)
		if !okA || !okB {
			return false
		}
		switch cond.Operator {
		case ">":
			return a > b
		case ">=":
			return a >= b
		case "<":
			return a < b
		default:
			return a <= b
		}
	case "in":
		list, _ := cond.Value.([]any)
		for _, item := range list {
			if equalValues(value, item) {
				return true
			}
		}
		return false
	case "between":
		lo, hi, ok := bounds(cond.Value)
		if !ok {
			return false
		}
		v, okV := toNumber(value)
		min, okMin := toNumber(lo)
		max, okMax := toNumber(hi)
		return okV && okMin && okMax && v >= min && v <= max
	default:
		return false
	}
}

// equalValues compares numerically when both sides are numbers, otherwise
// by the sheet's string rendering.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		x, _ := toNumber(a)
		y, _ := toNumber(b)
		return x == y
	}
	return localstore.CellString(a) == localstore.CellString(b)
}

func bounds(v any) (any, any, bool) {
	switch b := v.(type) {
	case [2]any:
		return b[0], b[1], true
	case []any:
		if len(b) == 2 {
			return b[0], b[1], true
		}
	}
	return nil, nil, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// toNumber also accepts numeric strings, since sheet cells often arrive as text.
func toNumber(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	}
	return 0, false
}
