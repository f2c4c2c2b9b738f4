package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	OpEq         = "=="
	OpStrictEq   = "==="
	OpNeq        = "!="
	OpStrictNeq  = "!=="
	OpLt         = "<"
	OpLte        = "<="
	OpGt         = ">"
	OpGte        = ">="
	OpIn         = "in"
	OpNotIn      = "notIn"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpMatches    = "matches"
	OpExists     = "exists"
	OpEmpty      = "empty"
	OpBetween    = "between"
)

// operand is the resolved field value; present is false for a missing path.
type operand struct {
	value   any
	present bool
}

type operatorFunc func(e *Evaluator, actual operand, expected any) (bool, error)

var operators = map[string]operatorFunc{
	OpEq:         func(_ *Evaluator, a operand, v any) (bool, error) { return looseEqual(a, v), nil },
	OpStrictEq:   func(_ *Evaluator, a operand, v any) (bool, error) { return a.present && strictEqual(a.value, v), nil },
	OpNeq:        func(_ *Evaluator, a operand, v any) (bool, error) { return !looseEqual(a, v), nil },
	OpStrictNeq:  func(_ *Evaluator, a operand, v any) (bool, error) { return !(a.present && strictEqual(a.value, v)), nil },
	OpLt:         ordered(func(c int) bool { return c < 0 }),
	OpLte:        ordered(func(c int) bool { return c <= 0 }),
	OpGt:         ordered(func(c int) bool { return c > 0 }),
	OpGte:        ordered(func(c int) bool { return c >= 0 }),
	OpIn:         opIn,
	OpNotIn:      opNotIn,
	OpContains:   opContains,
	OpStartsWith: stringOp(strings.HasPrefix),
	OpEndsWith:   stringOp(strings.HasSuffix),
	OpMatches:    opMatches,
	OpExists:     opExists,
	OpEmpty:      opEmpty,
	OpBetween:    opBetween,
}

// Operators lists the supported operator names.
func Operators() []string {
	out := make([]string, 0, len(operators))
	for k := range operators {
		out = append(out, k)
	}
	return out
}

func ordered(accept func(int) bool) operatorFunc {
	return func(_ *Evaluator, a operand, v any) (bool, error) {
		if !a.present {
			return false, nil
		}
		c, ok := compare(a.value, v)
		if !ok {
			return false, nil
		}
		return accept(c), nil
	}
}

func opIn(_ *Evaluator, a operand, v any) (bool, error) {
	list, ok := asList(v)
	if !ok {
		return false, structural("in expects a list value, got %T", v)
	}
	for _, item := range list {
		if looseEqual(a, item) {
			return true, nil
		}
	}
	return false, nil
}

func opNotIn(e *Evaluator, a operand, v any) (bool, error) {
	ok, err := opIn(e, a, v)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func opContains(_ *Evaluator, a operand, v any) (bool, error) {
	if !a.present || a.value == nil {
		return false, nil
	}
	if s, ok := a.value.(string); ok {
		return strings.Contains(s, stringify(v)), nil
	}
	if list, ok := asList(a.value); ok {
		for _, item := range list {
			if looseEqual(operand{value: item, present: true}, v) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func stringOp(fn func(s, affix string) bool) operatorFunc {
	return func(_ *Evaluator, a operand, v any) (bool, error) {
		s, ok := a.value.(string)
		if !a.present || !ok {
			return false, nil
		}
		return fn(s, stringify(v)), nil
	}
}

func opMatches(e *Evaluator, a operand, v any) (bool, error) {
	re, err := e.regex(v)
	if err != nil {
		return false, err
	}
	return re.MatchString(stringify(a.value)), nil
}

func opExists(_ *Evaluator, a operand, v any) (bool, error) {
	exists := a.present && a.value != nil
	if want, ok := v.(bool); ok && !want {
		return !exists, nil
	}
	return exists, nil
}

func opEmpty(_ *Evaluator, a operand, v any) (bool, error) {
	empty := isEmpty(a)
	if want, ok := v.(bool); ok && !want {
		return !empty, nil
	}
	return empty, nil
}

func opBetween(_ *Evaluator, a operand, v any) (bool, error) {
	lo, hi, err := rangeBounds(v)
	if err != nil {
		return false, err
	}
	if !a.present {
		return false, nil
	}
	cLo, ok := compare(a.value, lo)
	if !ok {
		return false, nil
	}
	cHi, ok := compare(a.value, hi)
	if !ok {
		return false, nil
	}
	return cLo >= 0 && cHi <= 0, nil
}

func rangeBounds(v any) (any, any, error) {
	list, ok := asList(v)
	if !ok || len(list) != 2 {
		return nil, nil, structural("between expects a 2-element range, got %v", v)
	}
	return list[0], list[1], nil
}

func isEmpty(a operand) bool {
	if !a.present || a.value == nil {
		return true
	}
	switch t := a.value.(type) {
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(a.value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	}
	return false
}

func asList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toNumber converts numeric kinds; strict disables string parsing.
func toNumber(v any, strict bool) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		if strict {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func looseEqual(a operand, v any) bool {
	if !a.present || a.value == nil {
		return v == nil
	}
	if v == nil {
		return false
	}
	if x, ok := toNumber(a.value, false); ok {
		if y, ok := toNumber(v, false); ok {
			return x == y
		}
	}
	if x, ok := a.value.(bool); ok {
		if y, ok := v.(bool); ok {
			return x == y
		}
	}
	if strictEqual(a.value, v) {
		return true
	}
	return stringify(a.value) == stringify(v)
}

func strictEqual(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	if a, ok := toNumber(x, true); ok {
		b, ok := toNumber(y, true)
		return ok && a == b
	}
	return reflect.DeepEqual(x, y)
}

// compare orders numbers numerically and strings lexically; mixed kinds are incomparable.
func compare(x, y any) (int, bool) {
	if a, ok := toNumber(x, true); ok {
		if b, ok := toNumber(y, true); ok {
			switch {
			case a < b:
				return -1, true
			case a > b:
				return 1, true
			}
			return 0, true
		}
	}
	a, aok := x.(string)
	b, bok := y.(string)
	if aok && bok {
		return strings.Compare(a, b), true
	}
	if aok || bok {
		// a numeric string against a number
		fa, ok1 := toNumber(x, false)
		fb, ok2 := toNumber(y, false)
		if ok1 && ok2 {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	return 0, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
