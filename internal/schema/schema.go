// Package schema defines the declarative input/output schemas that workflows
// register alongside their handlers, and validates invocation payloads
// against them before any handler runs.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Field type constants.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBool    = "bool"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

// Field describes a single named field of an object schema.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	// Fields constrains the shape of object-typed values. Nil means any shape.
	Fields []Field `json:"fields,omitempty"`
	// Items constrains the element type of array-typed values. Nil means any.
	Items *Field `json:"items,omitempty"`
}

// Object is an object-shaped schema: a set of named fields. The zero value
// accepts any payload.
type Object struct {
	Fields []Field `json:"fields,omitempty"`
}

// FieldError describes a single validation failure, addressed by a dotted
// path into the payload.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationError aggregates all field errors found in one payload.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "invalid input: " + strings.Join(msgs, "; ")
}

// Min returns a pointer to v for use as a Field minimum or maximum.
func Min(v float64) *float64 { return &v }

// Validate checks payload against the schema. It returns a *ValidationError
// listing every violation, or nil if the payload conforms. Unknown top-level
// keys are rejected so that typos surface as validation failures rather than
// silently ignored input.
func (o Object) Validate(payload map[string]any) error {
	if len(o.Fields) == 0 {
		return nil
	}

	var errs []FieldError

	known := make(map[string]bool, len(o.Fields))
	for _, f := range o.Fields {
		known[f.Name] = true
		v, ok := payload[f.Name]
		if !ok || v == nil {
			if f.Required {
				errs = append(errs, FieldError{Path: f.Name, Message: "required field is missing"})
			}
			continue
		}
		errs = append(errs, checkValue(f.Name, f, v)...)
	}

	var unknown []string
	for k := range payload {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		errs = append(errs, FieldError{Path: k, Message: "unknown field"})
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// checkValue validates a single value against a field definition. JSON
// decoding produces float64 for all numbers, so integer fields accept
// float64 values without a fractional part.
func checkValue(path string, f Field, v any) []FieldError {
	switch f.Type {
	case TypeAny, "":
		return nil

	case TypeString:
		if _, ok := v.(string); !ok {
			return []FieldError{{Path: path, Message: fmt.Sprintf("expected string, got %T", v)}}
		}
		return nil

	case TypeBool:
		if _, ok := v.(bool); !ok {
			return []FieldError{{Path: path, Message: fmt.Sprintf("expected bool, got %T", v)}}
		}
		return nil

	case TypeNumber, TypeInteger:
		n, ok := toFloat(v)
		if !ok {
			return []FieldError{{Path: path, Message: fmt.Sprintf("expected %s, got %T", f.Type, v)}}
		}
		if f.Type == TypeInteger && n != math.Trunc(n) {
			return []FieldError{{Path: path, Message: "expected integer, got fractional number"}}
		}
		var errs []FieldError
		if f.Minimum != nil && n < *f.Minimum {
			errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf("must be >= %v", *f.Minimum)})
		}
		if f.Maximum != nil && n > *f.Maximum {
			errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf("must be <= %v", *f.Maximum)})
		}
		return errs

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return []FieldError{{Path: path, Message: fmt.Sprintf("expected object, got %T", v)}}
		}
		if len(f.Fields) == 0 {
			return nil
		}
		nested := Object{Fields: f.Fields}
		err := nested.Validate(m)
		if err == nil {
			return nil
		}
		ve := err.(*ValidationError)
		errs := make([]FieldError, len(ve.Errors))
		for i, fe := range ve.Errors {
			errs[i] = FieldError{Path: path + "." + fe.Path, Message: fe.Message}
		}
		return errs

	case TypeArray:
		items, ok := v.([]any)
		if !ok {
			return []FieldError{{Path: path, Message: fmt.Sprintf("expected array, got %T", v)}}
		}
		if f.Items == nil {
			return nil
		}
		var errs []FieldError
		for i, item := range items {
			errs = append(errs, checkValue(fmt.Sprintf("%s[%d]", path, i), *f.Items, item)...)
		}
		return errs

	default:
		return []FieldError{{Path: path, Message: fmt.Sprintf("schema declares unknown type %q", f.Type)}}
	}
}

// toFloat normalizes the numeric types a JSON decoder or an in-process caller
// may supply.
func toFloat(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
