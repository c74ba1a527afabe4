package tool

import "sort"

// JSONSchema is the subset of JSON Schema used for tool parameters.
type JSONSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
	Enum       []any          `json:"enum,omitempty"`
	Pattern    string         `json:"pattern,omitempty"`
	Minimum    *float64       `json:"minimum,omitempty"`
	Maximum    *float64       `json:"maximum,omitempty"`
	Items      *JSONSchema    `json:"items,omitempty"`
}

// Map renders the schema as a plain map for backend requests.
func (s *JSONSchema) Map() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := map[string]any{"type": s.Type}
	if s.Type == "" {
		out["type"] = "object"
	}
	props := make(map[string]any, len(s.Properties))
	for k, v := range s.Properties {
		props[k] = v
	}
	if out["type"] == "object" {
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		req := append([]string(nil), s.Required...)
		sort.Strings(req)
		out["required"] = req
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}
	if s.Minimum != nil {
		out["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		out["maximum"] = *s.Maximum
	}
	if s.Items != nil {
		out["items"] = s.Items.Map()
	}
	return out
}

// Prop is shorthand for a property schema with a description.
func Prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// ParseSchema builds a JSONSchema from a decoded JSON Schema document, such
// as one advertised by a remote tool server. Unknown keywords are dropped.
func ParseSchema(def map[string]any) *JSONSchema {
	if def == nil {
		return &JSONSchema{Type: "object"}
	}
	return schemaFromMap(def)
}
