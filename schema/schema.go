// Package schema provides a small validation-contract abstraction for
// tool inputs. A Contract turns a raw argument map into either a pass or
// a structured list of field errors, and renders the JSON-Schema-shaped
// map advertised by tools/list. It deliberately avoids binding to any
// schema library: contracts are plain values built at registration time.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind is the JSON type a property accepts.
type Kind string

const (
	String  Kind = "string"
	Integer Kind = "integer"
	Number  Kind = "number"
	Boolean Kind = "boolean"
	Object  Kind = "object"
	Array   Kind = "array"
)

// Property describes one named field of an object contract.
type Property struct {
	Kind        Kind
	Description string
	Required    bool
	Enum        []string // string-kind only
}

// FieldError is a single validation failure with its field path.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Contract validates a raw argument map against a set of declared
// properties. The zero value accepts any input.
type Contract struct {
	properties map[string]Property
	order      []string
}

// NewContract builds a contract from property declarations.
func NewContract(properties map[string]Property) Contract {
	order := make([]string, 0, len(properties))
	for name := range properties {
		order = append(order, name)
	}
	sort.Strings(order)
	return Contract{properties: properties, order: order}
}

// Validate checks args against the contract. A nil or empty return means
// the input passed. Unknown fields are tolerated; only declared shape is
// enforced.
func (c Contract) Validate(args map[string]any) []FieldError {
	var errs []FieldError
	for _, name := range c.order {
		prop := c.properties[name]
		value, present := args[name]
		if !present || value == nil {
			if prop.Required {
				errs = append(errs, FieldError{Field: name, Message: "required field is missing"})
			}
			continue
		}
		if msg := checkKind(prop, value); msg != "" {
			errs = append(errs, FieldError{Field: name, Message: msg})
		}
	}
	return errs
}

func checkKind(prop Property, value any) string {
	switch prop.Kind {
	case String:
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %T", value)
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, s) {
			return fmt.Sprintf("must be one of [%s]", strings.Join(prop.Enum, ", "))
		}
	case Integer:
		// JSON numbers decode to float64; accept integral values only.
		switch v := value.(type) {
		case float64:
			if v != math.Trunc(v) {
				return "expected integer, got fraction"
			}
		case int, int64:
		default:
			return fmt.Sprintf("expected integer, got %T", value)
		}
	case Number:
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Sprintf("expected number, got %T", value)
		}
	case Boolean:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected boolean, got %T", value)
		}
	case Object:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("expected object, got %T", value)
		}
	case Array:
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("expected array, got %T", value)
		}
	}
	return ""
}

// JSONSchema renders the contract as the JSON-Schema-shaped map that
// tools/list advertises to clients.
func (c Contract) JSONSchema() map[string]any {
	properties := make(map[string]any, len(c.properties))
	var required []string
	for _, name := range c.order {
		prop := c.properties[name]
		entry := map[string]any{"type": string(prop.Kind)}
		if prop.Description != "" {
			entry["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			entry["enum"] = prop.Enum
		}
		properties[name] = entry
		if prop.Required {
			required = append(required, name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
