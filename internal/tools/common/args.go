package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ArgError reports an argument of the wrong type or value.
type ArgError struct {
	Name   string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("%s %s", e.Name, e.Reason)
}

// String returns args[name] or def when absent or empty.
func String(args map[string]any, name, def string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgError{Name: name, Reason: "must be a string"}
	}
	if s = strings.TrimSpace(s); s == "" {
		return def, nil
	}
	return s, nil
}

// RequiredString returns the non-empty string args[name].
func RequiredString(args map[string]any, name string) (string, error) {
	s, err := String(args, name, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", &ArgError{Name: name, Reason: "is required"}
	}
	return s, nil
}

// Int returns args[name] as a non-negative integer or def when absent.
// JSON numbers arrive as float64; numeric strings are accepted too.
func Int(args map[string]any, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, &ArgError{Name: name, Reason: "must be an integer"}
		}
		f = float64(parsed)
	default:
		return 0, &ArgError{Name: name, Reason: "must be a number"}
	}
	if f != math.Trunc(f) {
		return 0, &ArgError{Name: name, Reason: "must be an integer"}
	}
	if f < 0 {
		return 0, &ArgError{Name: name, Reason: "must not be negative"}
	}
	return int(f), nil
}

// Bool returns args[name] or def when absent.
func Bool(args map[string]any, name string, def bool) (bool, error) {
	b, err := OptionalBool(args, name)
	if err != nil || b == nil {
		return def, err
	}
	return *b, nil
}

// OptionalBool returns nil when args[name] is absent. "true" and "false"
// strings are accepted.
func OptionalBool(args map[string]any, name string) (*bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	switch b := v.(type) {
	case bool:
		return &b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return nil, &ArgError{Name: name, Reason: "must be a boolean"}
		}
		return &parsed, nil
	}
	return nil, &ArgError{Name: name, Reason: "must be a boolean"}
}

// Date parses args[name] as RFC 3339 or YYYY-MM-DD (UTC midnight). endOfDay
// moves a bare date to the last instant of that day.
func Date(args map[string]any, name string, endOfDay bool) (time.Time, error) {
	s, err := String(args, name, "")
	if err != nil || s == "" {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, &ArgError{Name: name, Reason: "must be a date (YYYY-MM-DD or RFC 3339)"}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
