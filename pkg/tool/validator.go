package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
)

// Validator checks parameters against a schema before execution.
type Validator interface {
	Validate(params map[string]any, schema *JSONSchema) error
}

// DefaultValidator supports required fields, primitive types, nested
// objects and arrays, enum, pattern and numeric bounds.
type DefaultValidator struct{}

// Validate returns the first violation found.
func (v DefaultValidator) Validate(params map[string]any, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	return v.check(params, schema, "")
}

func (v DefaultValidator) check(value any, schema *JSONSchema, path string) error {
	typ := schema.Type
	if typ == "" {
		switch {
		case schema.Items != nil:
			typ = "array"
		case len(schema.Properties) > 0 || len(schema.Required) > 0:
			typ = "object"
		}
	}
	if typ != "" {
		if err := checkType(value, typ); err != nil {
			return fieldError(path, err)
		}
	}
	if len(schema.Enum) > 0 && !inEnum(value, schema.Enum) {
		return fieldError(path, fmt.Errorf("expected one of %v but got %v", schema.Enum, value))
	}
	if schema.Pattern != "" {
		s, _ := value.(string)
		re, err := regexp.Compile(schema.Pattern)
		if err != nil {
			return fieldError(path, fmt.Errorf("invalid pattern %q: %w", schema.Pattern, err))
		}
		if !re.MatchString(s) {
			return fieldError(path, fmt.Errorf("%q does not match %q", s, schema.Pattern))
		}
	}
	if schema.Minimum != nil || schema.Maximum != nil {
		n, ok := toFloat(value)
		if !ok {
			return fieldError(path, fmt.Errorf("expected number but got %T", value))
		}
		if schema.Minimum != nil && n < *schema.Minimum {
			return fieldError(path, fmt.Errorf("%v is less than minimum %v", n, *schema.Minimum))
		}
		if schema.Maximum != nil && n > *schema.Maximum {
			return fieldError(path, fmt.Errorf("%v exceeds maximum %v", n, *schema.Maximum))
		}
	}

	switch typ {
	case "object":
		obj := value.(map[string]any)
		for _, field := range schema.Required {
			if _, ok := obj[field]; !ok {
				return fmt.Errorf("missing required field: %s", joinPath(path, field))
			}
		}
		for key, child := range obj {
			def, ok := schema.Properties[key].(map[string]any)
			if !ok {
				continue
			}
			if err := v.check(child, schemaFromMap(def), joinPath(path, key)); err != nil {
				return err
			}
		}
	case "array":
		if schema.Items == nil {
			return nil
		}
		for i, item := range value.([]any) {
			if err := v.check(item, schema.Items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func schemaFromMap(def map[string]any) *JSONSchema {
	s := &JSONSchema{}
	s.Type, _ = def["type"].(string)
	s.Properties, _ = def["properties"].(map[string]any)
	switch req := def["required"].(type) {
	case []string:
		s.Required = req
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	switch enum := def["enum"].(type) {
	case []any:
		s.Enum = enum
	case []string:
		for _, e := range enum {
			s.Enum = append(s.Enum, e)
		}
	}
	s.Pattern, _ = def["pattern"].(string)
	if n, ok := toFloat(def["minimum"]); ok {
		s.Minimum = &n
	}
	if n, ok := toFloat(def["maximum"]); ok {
		s.Maximum = &n
	}
	if items, ok := def["items"].(map[string]any); ok {
		s.Items = schemaFromMap(items)
	}
	return s
}

func checkType(value any, expected string) error {
	ok := false
	switch expected {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = toFloat(value)
	case "integer":
		if n, isNum := toFloat(value); isNum {
			ok = math.Trunc(n) == n
		}
	case "boolean":
		_, ok = value.(bool)
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	case "null":
		ok = value == nil
	default:
		return fmt.Errorf("unsupported schema type %q", expected)
	}
	if !ok {
		return fmt.Errorf("expected %s but got %T", expected, value)
	}
	return nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func inEnum(value any, values []any) bool {
	for _, candidate := range values {
		a, aok := toFloat(value)
		b, bok := toFloat(candidate)
		if aok && bok && a == b {
			return true
		}
		if reflect.DeepEqual(value, candidate) {
			return true
		}
	}
	return false
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}

func fieldError(path string, err error) error {
	if path == "" {
		return err
	}
	return fmt.Errorf("field %s: %w", path, err)
}
