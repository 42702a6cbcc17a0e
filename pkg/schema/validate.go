// Schema validation and equality
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSchema is the root of all schema validation failures
var ErrInvalidSchema = errors.New("invalid tool schema")

// SchemaError describes a malformed tool descriptor
type SchemaError struct {
	Tool   string
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %q: %s: %s", e.Tool, e.Path, e.Reason)
}

// Is makes SchemaError match ErrInvalidSchema
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// Validate checks the structural invariants of a tool. It must pass before
// the tool is offered to a backend.
func (t Tool) Validate() error {
	if !t.Known() {
		return &SchemaError{Tool: string(t.Type), Reason: fmt.Sprintf("unsupported tool type %q", t.Type)}
	}
	if t.Function == nil {
		return &SchemaError{Reason: "function tool without function definition"}
	}

	name := t.Function.Name
	if strings.TrimSpace(name) == "" {
		return &SchemaError{Tool: name, Reason: "name is required"}
	}
	if t.Function.Parameters == nil {
		return nil
	}
	return validateParameter(name, "parameters", t.Function.Parameters, 0)
}

func validateParameter(tool, path string, p Parameter, depth int) error {
	if depth >= MaxDepth {
		return &SchemaError{Tool: tool, Path: path, Reason: ErrTooDeep.Error()}
	}

	switch v := p.(type) {
	case nil:
		return &SchemaError{Tool: tool, Path: path, Reason: "parameter is nil"}
	case Object:
		seen := make(map[string]bool, len(v.Required))
		for _, req := range v.Required {
			if seen[req] {
				return &SchemaError{Tool: tool, Path: path, Reason: fmt.Sprintf("required property %q listed twice", req)}
			}
			seen[req] = true
			if _, ok := v.Properties[req]; !ok {
				return &SchemaError{Tool: tool, Path: path, Reason: fmt.Sprintf("required property %q is not declared", req)}
			}
		}
		for _, name := range sortedKeys(v.Properties) {
			if name == "" {
				return &SchemaError{Tool: tool, Path: path, Reason: "property with empty name"}
			}
			if err := validateParameter(tool, path+"."+name, v.Properties[name], depth+1); err != nil {
				return err
			}
		}
	case Array:
		if v.Items == nil {
			return &SchemaError{Tool: tool, Path: path, Reason: "array without items"}
		}
		return validateParameter(tool, path+"[]", v.Items, depth+1)
	case Unknown:
		return validateUnknown(tool, path, v, depth)
	case String, Number, Integer, Boolean:
	default:
		return &SchemaError{Tool: tool, Path: path, Reason: fmt.Sprintf("unsupported parameter type %T", p)}
	}
	return nil
}

// validateUnknown accepts only Unknown values that decode back to
// themselves: the raw schema must be present and must carry the same
// unrecognized kind.
func validateUnknown(tool, path string, u Unknown, depth int) error {
	if len(u.Raw) == 0 {
		return &SchemaError{Tool: tool, Path: path, Reason: fmt.Sprintf("parameter of kind %q without raw schema", u.Type)}
	}
	if isKnownKind(Kind(u.Type)) {
		return &SchemaError{Tool: tool, Path: path, Reason: fmt.Sprintf("kind %q must use its own parameter type", u.Type)}
	}

	decoded, err := unmarshalParameter(u.Raw, depth)
	if err != nil {
		return &SchemaError{Tool: tool, Path: path, Reason: err.Error()}
	}
	if decoded.Kind() != u.Kind() {
		return &SchemaError{Tool: tool, Path: path, Reason: fmt.Sprintf("raw schema has kind %q, want %q", decoded.Kind(), u.Type)}
	}
	return nil
}

func isKnownKind(k Kind) bool {
	switch k {
	case KindObject, KindString, KindNumber, KindInteger, KindBoolean, KindArray:
		return true
	}
	return false
}

// Equal reports whether two tools describe the same thing. Required lists
// compare as sets, and nil and empty collections are equal.
func Equal(a, b Tool) bool {
	if a.Type != b.Type {
		return false
	}
	if !a.Known() {
		return jsonEqual(a.raw, b.raw)
	}
	if (a.Function == nil) != (b.Function == nil) {
		return false
	}
	if a.Function == nil {
		return true
	}
	return a.Function.Name == b.Function.Name &&
		a.Function.Description == b.Function.Description &&
		EqualParameter(a.Function.Parameters, b.Function.Parameters)
}

// EqualParameter reports whether two parameter trees are equivalent
func EqualParameter(a, b Parameter) bool {
	if a == nil {
		a = Object{}
	}
	if b == nil {
		b = Object{}
	}

	switch x := a.(type) {
	case Object:
		y, ok := b.(Object)
		if !ok || x.Description != y.Description || len(x.Properties) != len(y.Properties) {
			return false
		}
		if !sameSet(x.Required, y.Required) {
			return false
		}
		for name, px := range x.Properties {
			py, ok := y.Properties[name]
			if !ok || !EqualParameter(px, py) {
				return false
			}
		}
		return true
	case String:
		y, ok := b.(String)
		return ok && x.Description == y.Description && sameList(x.Enum, y.Enum)
	case Array:
		y, ok := b.(Array)
		if !ok || x.Description != y.Description {
			return false
		}
		if x.Items == nil || y.Items == nil {
			return x.Items == nil && y.Items == nil
		}
		return EqualParameter(x.Items, y.Items)
	case Unknown:
		y, ok := b.(Unknown)
		return ok && x.Type == y.Type && jsonEqual(x.Raw, y.Raw)
	default:
		return a == b
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
		if counts[s] < 0 {
			return false
		}
	}
	return true
}

func sameList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func jsonEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}

func sortedKeys(m map[string]Parameter) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
