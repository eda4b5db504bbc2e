package actions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gobby-stack/gobby/internal/condition"
)

// Args are an action's rendered arguments.
type Args map[string]any

// Has reports whether key is present and non-nil.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns the argument as a string, or "".
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	return condition.StringifyValue(v)
}

// Bool returns the argument as a bool.
func (a Args) Bool(key string) bool {
	v, ok := a[key]
	if !ok {
		return false
	}
	if s, ok := v.(string); ok {
		b, _ := strconv.ParseBool(strings.TrimSpace(s))
		return b
	}
	return condition.Truthy(v)
}

// Int returns the argument as an int, or def when absent or not numeric.
func (a Args) Int(key string, def int) int {
	f, ok := toFloat(a[key])
	if !ok {
		return def
	}
	return int(f)
}

// Float returns the argument as a float64.
func (a Args) Float(key string) (float64, bool) {
	return toFloat(a[key])
}

// Duration reads a duration given as seconds (number) or a Go duration
// string ("90s", "2m").
func (a Args) Duration(key string) (time.Duration, bool) {
	switch v := a[key].(type) {
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d, true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(f * float64(time.Second)), true
		}
	default:
		if f, ok := toFloat(v); ok {
			return time.Duration(f * float64(time.Second)), true
		}
	}
	return 0, false
}

// Strings returns a list argument. A single string becomes a one-item list.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, condition.StringifyValue(item))
		}
		return out
	}
	return []string{condition.StringifyValue(a[key])}
}

// Map returns a map argument, or nil.
func (a Args) Map(key string) map[string]any {
	m, _ := a[key].(map[string]any)
	return m
}

// Require returns a non-empty string argument or an ACTION_005 error.
func (a Args) Require(action, key string) (string, error) {
	s := strings.TrimSpace(a.String(key))
	if s == "" {
		return "", argError(action, key, "is required")
	}
	return s, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func numberValue(f float64) any {
	if f == float64(int64(f)) {
		return int(f)
	}
	return f
}

func describe(v any) string {
	return fmt.Sprintf("%v (%T)", v, v)
}
