package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args are validated tool arguments. Values have already been coerced to the
// declared kinds, so the accessors never need to guess.
type Args map[string]any

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Int(name string) int {
	n, _ := a[name].(int)
	return n
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Strings(name string) []string {
	s, _ := a[name].([]string)
	return s
}

func (a Args) Object(name string) map[string]any {
	m, _ := a[name].(map[string]any)
	return m
}

func coerce(kind Kind, v any) (any, error) {
	switch kind {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Integer:
		return toInt(v)
	case Number:
		return toFloat(v)
	case Boolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed, nil
			}
		}
	case StringList:
		switch list := v.(type) {
		case []string:
			return append([]string(nil), list...), nil
		case []any:
			out := make([]string, 0, len(list))
			for i, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("item %d: expected string, got %T", i, item)
				}
				out = append(out, s)
			}
			return out, nil
		}
	case Object:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", kind, v)
}

func toInt(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return nil, fmt.Errorf("integer %d out of range", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("expected integer, got %v", n)
		}
		// float64(math.MaxInt) rounds up to 2^63, itself out of range
		if n < math.MinInt || n >= math.MaxInt {
			return nil, fmt.Errorf("integer %v out of range", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < math.MinInt || i > math.MaxInt {
			return nil, fmt.Errorf("expected integer, got %q", n.String())
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil, fmt.Errorf("expected integer, got %q", n)
		}
		return i, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func toFloat(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", n.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	}
	return nil, fmt.Errorf("expected number, got %T", v)
}
