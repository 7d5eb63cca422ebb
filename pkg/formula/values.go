package formula

import (
	"encoding/json"
	"math"
)

// ToNumber converts a value to float64 if it has a numeric representation.
// Strings are never coerced.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Truthy reports whether v counts as true in a boolean position.
// nil, false, 0, NaN, "" and empty lists are falsy. Everything else is truthy.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if n, ok := ToNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// Equal compares two values. Numbers compare by value regardless of their Go
// type; values of different kinds are never equal.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	an, aok := ToNumber(a)
	bn, bok := ToNumber(b)
	if aok || bok {
		return aok && bok && an == bn
	}
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	default:
		return false
	}
}

// normalize maps context values onto the evaluator's value domain:
// float64, bool, string, nil, or an opaque value that only supports equality.
func normalize(v any) any {
	if n, ok := ToNumber(v); ok {
		return n
	}
	return v
}

// Round rounds x half-up to the given number of decimal places.
func Round(x float64, places int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	factor := math.Pow(10, float64(places))
	return math.Floor(x*factor+0.5) / factor
}

// typeName is used in error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any, []string:
		return "list"
	default:
		return "value"
	}
}
