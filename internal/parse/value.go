package parse

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value kinds understood by Coerce. They match the declared node types of
// the state tree.
const (
	KindString  = "string"
	KindNumber  = "number"
	KindBoolean = "boolean"
)

// Float converts a loosely typed vendor value to a float64. Numeric strings
// are accepted; NaN and infinities are not.
func Float(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Int converts a numeric-looking value to an integer. Fractions are
// truncated toward zero, so "12.7" yields 12.
func Int(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool converts common boolean spellings. Numbers are true when non-zero.
func Bool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "1", "yes":
			return true, true
		case "false", "off", "0", "no":
			return false, true
		}
		return false, false
	}
	if f, ok := Float(v); ok {
		return f != 0, true
	}
	return false, false
}

// Coerce converts an externally written value to the declared kind. It is
// strict about shape: objects, arrays and null are always rejected.
func Coerce(kind string, v any) (any, error) {
	switch v.(type) {
	case nil, map[string]any, []any:
		return nil, fmt.Errorf("value %v is not a scalar", v)
	}

	switch kind {
	case KindNumber:
		if b, ok := v.(bool); ok {
			if b {
				return float64(1), nil
			}
			return float64(0), nil
		}
		f, ok := Float(v)
		if !ok {
			return nil, fmt.Errorf("value %v is not a number", v)
		}
		return f, nil
	case KindBoolean:
		b, ok := Bool(v)
		if !ok {
			return nil, fmt.Errorf("value %v is not a boolean", v)
		}
		return b, nil
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// Equal compares two scalar values after normalization, so that 16,
// float64(16) and json.Number("16") are all equal.
func Equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := Float(a)
		fb, _ := Float(b)
		return fa == fb
	}
	ba, okA := a.(bool)
	bb, okB := b.(bool)
	if okA || okB {
		return okA && okB && ba == bb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32, json.Number:
		_, ok := Float(v)
		return ok
	}
	return false
}
