package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	swaggest "github.com/swaggest/jsonschema-go"
)

// FromStruct derives a parameter tree from a Go struct using its json tags.
// Fields tagged required:"true" end up in Required, and description:"..."
// becomes the parameter description.
//
// Example:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" required:"true" description:"City name"`
//	}
//	params, err := FromStruct(WeatherArgs{})
func FromStruct(v any) (Parameter, error) {
	reflector := swaggest.Reflector{}

	reflected, err := reflector.Reflect(v, swaggest.InlineRefs)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect struct to JSON schema: %w", err)
	}

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema: %w", err)
	}

	p, err := UnmarshalParameter(raw)
	if err != nil {
		return nil, err
	}
	if p.Kind() != KindObject {
		return nil, fmt.Errorf("%T does not reflect to an object schema", v)
	}
	return p, nil
}

// ToMap renders a parameter tree as a generic JSON Schema map, the shape most
// SDKs accept for tool parameters
func ToMap(p Parameter) (map[string]any, error) {
	raw, err := MarshalParameter(p)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema JSON to map: %w", err)
	}
	return m, nil
}

// Compile turns a parameter tree into a JSON Schema validator. It covers what
// the lightweight required-property checks do not, such as enums and nested
// array items.
func Compile(p Parameter) (*jsonschema.Schema, error) {
	raw, err := MarshalParameter(p)
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	const location = "parameters.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	compiled, err := compiler.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return compiled, nil
}
