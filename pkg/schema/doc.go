// Package schema describes the tools a model may call.
//
// A Tool is a tagged union keyed by its "type". Today the only known kind is
// "function", whose parameters form a tree of Parameter values (Object,
// String, Number, Integer, Boolean, Array). Kinds this package does not
// recognize decode into Unknown values that keep their raw JSON, so newer
// backends never break decoding.
//
// The JSON produced by this package is the wire contract used by the
// providers:
//
//	{"type":"function","function":{"name":"get_current_weather",
//	  "description":"Get the current weather for a location",
//	  "parameters":{"type":"object",
//	    "properties":{"location":{"type":"string","description":"..."}},
//	    "required":["location"]}}}
//
// Tools are checked with Validate before they are registered; a required
// name that is not a declared property is a *SchemaError.
package schema
