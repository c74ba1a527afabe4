package tool

import (
	"fmt"
	"strings"
)

// String returns a required, non-blank string parameter.
func String(params map[string]any, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

// OptionalString returns the string parameter or def when absent.
func OptionalString(params map[string]any, key, def string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

// Int returns an integer parameter or def when absent. JSON numbers arrive
// as float64 and must be whole.
func Int(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	n, ok := toFloat(raw)
	if !ok || n != float64(int(n)) {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return int(n), nil
}

// Bool returns a boolean parameter or def when absent.
func Bool(params map[string]any, key string, def bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
