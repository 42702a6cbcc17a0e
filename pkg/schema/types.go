// Tool and parameter types
package schema

import "encoding/json"

// ToolType is the discriminator of a Tool on the wire
type ToolType string

const (
	// ToolTypeFunction is the only tool kind currently understood
	ToolTypeFunction ToolType = "function"
)

// Kind is the discriminator of a Parameter on the wire
type Kind string

const (
	KindObject  Kind = "object"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
)

// MaxDepth bounds the nesting of parameter trees
const MaxDepth = 32

// Tool is a tool the model may request. Type selects the variant: for
// ToolTypeFunction, Function is set. Any other type is kept verbatim in raw
// so that it can be re-encoded unchanged.
type Tool struct {
	Type     ToolType
	Function *Function

	raw json.RawMessage
}

// Function describes a callable function tool
type Function struct {
	Name        string
	Description string
	Parameters  Parameter
}

// NewFunction creates a function tool
func NewFunction(name, description string, params Parameter) Tool {
	return Tool{
		Type: ToolTypeFunction,
		Function: &Function{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}
}

// Known reports whether the tool kind is understood by this package
func (t Tool) Known() bool {
	return t.Type == ToolTypeFunction
}

// Name returns the function name, or "" for unknown kinds
func (t Tool) Name() string {
	if t.Function == nil {
		return ""
	}
	return t.Function.Name
}

// Parameter is a node in a tool's parameter tree. The set of implementations
// is closed; Unknown stands in for kinds added by newer backends.
type Parameter interface {
	Kind() Kind
	isParameter()
}

// Object is a parameter with named properties
type Object struct {
	Description string
	Properties  map[string]Parameter
	Required    []string
}

// String is a string parameter, optionally restricted to Enum
type String struct {
	Description string
	Enum        []string
}

// Number is a floating point parameter
type Number struct {
	Description string
}

// Integer is an integral parameter
type Integer struct {
	Description string
}

// Boolean is a true/false parameter
type Boolean struct {
	Description string
}

// Array is a list parameter whose elements follow Items
type Array struct {
	Description string
	Items       Parameter
}

// Unknown keeps a parameter whose kind is not recognized
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Object) Kind() Kind  { return KindObject }
func (String) Kind() Kind  { return KindString }
func (Number) Kind() Kind  { return KindNumber }
func (Integer) Kind() Kind { return KindInteger }
func (Boolean) Kind() Kind { return KindBoolean }
func (Array) Kind() Kind   { return KindArray }
func (u Unknown) Kind() Kind {
	return Kind(u.Type)
}

func (Object) isParameter()  {}
func (String) isParameter()  {}
func (Number) isParameter()  {}
func (Integer) isParameter() {}
func (Boolean) isParameter() {}
func (Array) isParameter()   {}
func (Unknown) isParameter() {}

// IsRequired reports whether name is listed in Required
func (o Object) IsRequired(name string) bool {
	for _, r := range o.Required {
		if r == name {
			return true
		}
	}
	return false
}
