package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeBool
)

func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "integer"
	case TypeBool:
		return "boolean"
	default:
		return "string"
	}
}

// Field declares one payload key of a core action.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Default  any
	// Min applies to TypeInt fields when > 0.
	Min int
}

// Schema validates a payload before the action runs, so malformed payloads
// fail the same way for every action.
type Schema []Field

// Params is a payload that passed its schema. Declared fields hold typed
// values: string, int or bool.
type Params map[string]any

func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

func (p Params) Int(name string) int {
	n, _ := p[name].(int)
	return n
}

func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Validate checks payload against s and returns the typed parameters.
// Undeclared keys are passed through unchanged.
func (s Schema) Validate(payload map[string]any) (Params, error) {
	out := make(Params, len(payload)+len(s))
	for k, v := range payload {
		out[k] = v
	}
	for _, f := range s {
		raw, present := payload[f.Name]
		if present && isBlank(raw) {
			present = false
		}
		if !present {
			if f.Required {
				return nil, fmt.Errorf("payload.%s is required", f.Name)
			}
			if f.Default != nil {
				out[f.Name] = f.Default
			} else {
				delete(out, f.Name)
			}
			continue
		}
		v, ok := coerce(raw, f.Type)
		if !ok {
			return nil, fmt.Errorf("payload.%s must be a %s", f.Name, f.Type)
		}
		if n, isInt := v.(int); isInt && f.Min > 0 && n < f.Min {
			return nil, fmt.Errorf("payload.%s must be at least %d", f.Name, f.Min)
		}
		out[f.Name] = v
	}
	return out, nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

func coerce(v any, t FieldType) (any, bool) {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			return strings.TrimSpace(x), true
		case json.Number:
			return x.String(), true
		}
	case TypeInt:
		switch x := v.(type) {
		case int:
			return x, true
		case int64:
			return int(x), true
		case float64:
			if x == math.Trunc(x) && math.Abs(x) <= math.MaxInt32 {
				return int(x), true
			}
		case json.Number:
			n, err := x.Int64()
			if err == nil {
				return int(n), true
			}
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(x))
			if err == nil {
				return n, true
			}
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, true
			}
		}
	}
	return nil, false
}
