package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Schema declares the shape a completion must return. It renders to a JSON
// Schema document for the provider's structured-output mode and drives
// local validation and normalization of the response.
type Schema struct {
	Name string
	Root *Property
}

// Property is one node of the schema tree.
type Property struct {
	Type        string // "object", "array", "string", "number", "integer", "boolean"
	Description string
	Properties  map[string]*Property // object
	Required    []string             // object
	Items       *Property            // array
	Minimum     *float64             // number/integer
	Maximum     *float64             // number/integer
	Enum        []string             // string
}

// Float returns a pointer for Minimum/Maximum literals.
func Float(v float64) *float64 { return &v }

// Object is shorthand for an object property where every field is required.
func Object(props map[string]*Property) *Property {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	return &Property{Type: "object", Properties: props, Required: required}
}

// JSONSchema renders the schema as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]any {
	return s.Root.render()
}

func (p *Property) render() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	switch p.Type {
	case "object":
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.render()
		}
		out["properties"] = props
		out["required"] = p.Required
		out["additionalProperties"] = false
	case "array":
		if p.Items != nil {
			out["items"] = p.Items.render()
		}
	}
	if p.Minimum != nil {
		out["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		out["maximum"] = *p.Maximum
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	return out
}

// Normalize validates raw JSON against the schema and returns a normalized
// document: numeric strings coerced to numbers, values clamped to declared
// bounds, NaN/Inf rejected. The returned bytes unmarshal cleanly into the
// typed struct the schema describes.
func (s *Schema) Normalize(raw []byte) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	normalized, err := s.Root.normalize(doc, "$")
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func (p *Property) normalize(v any, path string) (any, error) {
	switch p.Type {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected object, got %T", path, v)
		}
		for _, name := range p.Required {
			if _, ok := obj[name]; !ok {
				return nil, fmt.Errorf("%s: missing required field %q", path, name)
			}
		}
		out := make(map[string]any, len(obj))
		for name, val := range obj {
			child, ok := p.Properties[name]
			if !ok {
				// unknown fields are dropped, not fatal
				continue
			}
			norm, err := child.normalize(val, path+"."+name)
			if err != nil {
				return nil, err
			}
			out[name] = norm
		}
		return out, nil

	case "array":
		arr, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected array, got %T", path, v)
		}
		if p.Items == nil {
			return arr, nil
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			norm, err := p.Items.normalize(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil

	case "string":
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", path, v)
		}
		if len(p.Enum) > 0 {
			for _, e := range p.Enum {
				if str == e {
					return str, nil
				}
			}
			return nil, fmt.Errorf("%s: %q not in enum %v", path, str, p.Enum)
		}
		return str, nil

	case "number", "integer":
		f, err := coerceNumber(v, path)
		if err != nil {
			return nil, err
		}
		if p.Minimum != nil && f < *p.Minimum {
			f = *p.Minimum
		}
		if p.Maximum != nil && f > *p.Maximum {
			f = *p.Maximum
		}
		if p.Type == "integer" {
			return int64(math.Round(f)), nil
		}
		return f, nil

	case "boolean":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected boolean, got %T", path, v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%s: unknown schema type %q", path, p.Type)
}

func coerceNumber(v any, path string) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: expected number, got string %q", path, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%s: expected number, got %T", path, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%s: non-finite number", path)
	}
	return f, nil
}
