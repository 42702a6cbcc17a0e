// JSON wire codec for tools and parameters
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTooDeep is returned when a parameter tree exceeds MaxDepth
var ErrTooDeep = errors.New("parameter nesting exceeds maximum depth")

type wireTool struct {
	Type     ToolType        `json:"type"`
	Function json.RawMessage `json:"function,omitempty"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// wireParameter is the union of all known parameter fields
type wireParameter struct {
	Type        json.RawMessage            `json:"type"`
	Description string                     `json:"description,omitempty"`
	Enum        []string                   `json:"enum,omitempty"`
	Properties  map[string]json.RawMessage `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       json.RawMessage            `json:"items,omitempty"`
}

type wireObject struct {
	Type        Kind                       `json:"type"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]json.RawMessage `json:"properties"`
	Required    []string                   `json:"required"`
}

type wireString struct {
	Type        Kind     `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type wireScalar struct {
	Type        Kind   `json:"type"`
	Description string `json:"description,omitempty"`
}

type wireArray struct {
	Type        Kind            `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       json.RawMessage `json:"items"`
}

// MarshalJSON encodes the tool in its tagged wire form
func (t Tool) MarshalJSON() ([]byte, error) {
	if !t.Known() {
		if len(t.raw) > 0 {
			return t.raw, nil
		}
		return json.Marshal(wireTool{Type: t.Type})
	}
	if t.Function == nil {
		return nil, fmt.Errorf("tool of type %q has no function", t.Type)
	}

	params, err := MarshalParameter(t.Function.Parameters)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.Function.Name, err)
	}
	fn, err := json.Marshal(wireFunction{
		Name:        t.Function.Name,
		Description: t.Function.Description,
		Parameters:  params,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireTool{Type: t.Type, Function: fn})
}

// UnmarshalJSON decodes a tool, keeping unrecognized kinds verbatim
func (t *Tool) UnmarshalJSON(data []byte) error {
	var w wireTool
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*t = Tool{Type: w.Type}
	if w.Type != ToolTypeFunction {
		t.raw = append(json.RawMessage(nil), data...)
		return nil
	}
	if len(w.Function) == 0 {
		return fmt.Errorf("function tool without \"function\" payload")
	}

	var fn wireFunction
	if err := json.Unmarshal(w.Function, &fn); err != nil {
		return fmt.Errorf("decoding function: %w", err)
	}

	t.Function = &Function{Name: fn.Name, Description: fn.Description}
	if len(fn.Parameters) > 0 && !bytes.Equal(bytes.TrimSpace(fn.Parameters), []byte("null")) {
		p, err := UnmarshalParameter(fn.Parameters)
		if err != nil {
			return fmt.Errorf("function %q: %w", fn.Name, err)
		}
		t.Function.Parameters = p
	}
	return nil
}

// MarshalParameter encodes a parameter tree. A nil parameter encodes as an
// object with no properties, which is what backends expect for tools without
// arguments.
func MarshalParameter(p Parameter) ([]byte, error) {
	return marshalParameter(p, 0)
}

func marshalParameter(p Parameter, depth int) ([]byte, error) {
	if depth >= MaxDepth {
		return nil, ErrTooDeep
	}

	switch v := p.(type) {
	case nil:
		return json.Marshal(wireObject{Type: KindObject, Properties: map[string]json.RawMessage{}, Required: []string{}})
	case Object:
		props := make(map[string]json.RawMessage, len(v.Properties))
		for name, child := range v.Properties {
			raw, err := marshalParameter(child, depth+1)
			if err != nil {
				return nil, err
			}
			props[name] = raw
		}
		required := v.Required
		if required == nil {
			required = []string{}
		}
		return json.Marshal(wireObject{
			Type:        KindObject,
			Description: v.Description,
			Properties:  props,
			Required:    required,
		})
	case String:
		return json.Marshal(wireString{Type: KindString, Description: v.Description, Enum: v.Enum})
	case Number:
		return json.Marshal(wireScalar{Type: KindNumber, Description: v.Description})
	case Integer:
		return json.Marshal(wireScalar{Type: KindInteger, Description: v.Description})
	case Boolean:
		return json.Marshal(wireScalar{Type: KindBoolean, Description: v.Description})
	case Array:
		items := json.RawMessage(`{}`)
		if v.Items != nil {
			var err error
			if items, err = marshalParameter(v.Items, depth+1); err != nil {
				return nil, err
			}
		}
		return json.Marshal(wireArray{Type: KindArray, Description: v.Description, Items: items})
	case Unknown:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(wireScalar{Type: Kind(v.Type)})
	default:
		return nil, fmt.Errorf("unsupported parameter type %T", p)
	}
}

// UnmarshalParameter decodes a parameter tree
func UnmarshalParameter(data []byte) (Parameter, error) {
	return unmarshalParameter(data, 0)
}

func unmarshalParameter(data []byte, depth int) (Parameter, error) {
	if depth >= MaxDepth {
		return nil, ErrTooDeep
	}

	var w wireParameter
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decoding parameter: %w", err)
	}

	kind, err := decodeKind(w.Type)
	if err != nil {
		return nil, err
	}
	if kind == "" && w.Properties != nil {
		kind = KindObject
	}

	switch kind {
	case KindObject:
		obj := Object{Description: w.Description, Required: w.Required}
		if len(w.Properties) > 0 {
			obj.Properties = make(map[string]Parameter, len(w.Properties))
			for name, raw := range w.Properties {
				child, err := unmarshalParameter(raw, depth+1)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", name, err)
				}
				obj.Properties[name] = child
			}
		}
		return obj, nil
	case KindString:
		return String{Description: w.Description, Enum: w.Enum}, nil
	case KindNumber:
		return Number{Description: w.Description}, nil
	case KindInteger:
		return Integer{Description: w.Description}, nil
	case KindBoolean:
		return Boolean{Description: w.Description}, nil
	case KindArray:
		arr := Array{Description: w.Description}
		if len(w.Items) > 0 && !isEmptyObject(w.Items) {
			items, err := unmarshalParameter(w.Items, depth+1)
			if err != nil {
				return nil, fmt.Errorf("items: %w", err)
			}
			arr.Items = items
		}
		return arr, nil
	default:
		return Unknown{Type: string(kind), Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// decodeKind accepts "type" as a string or as a list such as
// ["string","null"], in which case the first non-null entry wins
func decodeKind(raw json.RawMessage) (Kind, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return Kind(single), nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return "", fmt.Errorf("invalid parameter type %s", string(raw))
	}
	for _, k := range many {
		if k != "null" {
			return Kind(k), nil
		}
	}
	return "null", nil
}

func isEmptyObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) == 0
}
