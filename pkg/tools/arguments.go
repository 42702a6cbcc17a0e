package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/inercia/go-toolloop/pkg/llm"
	"github.com/inercia/go-toolloop/pkg/schema"
)

// checkArguments validates args against the tool parameters and returns a
// normalized copy. Values that arrive as JSON text where the schema wants an
// object or array are decoded, and scalars are converted to the declared
// scalar kind when that is lossless.
func checkArguments(tool string, params schema.Parameter, args map[string]any) (map[string]any, error) {
	if raw, ok := args[llm.RawArgumentsKey]; ok && len(args) == 1 {
		if obj, isObj := params.(schema.Object); !isObj || obj.Properties[llm.RawArgumentsKey] == nil {
			return nil, &ArgumentError{Tool: tool, Reason: fmt.Sprintf("arguments are not a JSON object: %v", raw)}
		}
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	if params == nil {
		return out, nil
	}

	obj, ok := params.(schema.Object)
	if !ok {
		return out, nil
	}

	c := checker{tool: tool}
	if err := c.object("", obj, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

type checker struct {
	tool string
}

func (c checker) fail(path, format string, args ...any) error {
	return &ArgumentError{Tool: c.tool, Argument: path, Reason: fmt.Sprintf(format, args...)}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// object checks m in place, replacing coerced values
func (c checker) object(path string, obj schema.Object, m map[string]any, depth int) error {
	if depth >= schema.MaxDepth {
		return c.fail(path, "arguments nested too deeply")
	}

	for _, name := range obj.Required {
		if v, ok := m[name]; !ok || v == nil {
			return c.fail(join(path, name), "missing required argument")
		}
	}

	for name, v := range m {
		p, declared := obj.Properties[name]
		if !declared || v == nil {
			continue
		}
		coerced, err := c.value(join(path, name), p, v, depth+1)
		if err != nil {
			return err
		}
		m[name] = coerced
	}
	return nil
}

func (c checker) value(path string, p schema.Parameter, v any, depth int) (any, error) {
	switch param := p.(type) {
	case schema.Object:
		m, ok := asObject(v)
		if !ok {
			return nil, c.fail(path, "expected an object, got %s", describe(v))
		}
		if err := c.object(path, param, m, depth); err != nil {
			return nil, err
		}
		return m, nil

	case schema.Array:
		items, ok := asArray(v)
		if !ok {
			return nil, c.fail(path, "expected an array, got %s", describe(v))
		}
		if param.Items == nil {
			return items, nil
		}
		for i, item := range items {
			coerced, err := c.value(fmt.Sprintf("%s[%d]", path, i), param.Items, item, depth+1)
			if err != nil {
				return nil, err
			}
			items[i] = coerced
		}
		return items, nil

	case schema.String:
		s, ok := asString(v)
		if !ok {
			return nil, c.fail(path, "expected a string, got %s", describe(v))
		}
		if len(param.Enum) > 0 && !contains(param.Enum, s) {
			return nil, c.fail(path, "must be one of %s", strings.Join(param.Enum, ", "))
		}
		return s, nil

	case schema.Number:
		f, ok := asNumber(v)
		if !ok {
			return nil, c.fail(path, "expected a number, got %s", describe(v))
		}
		return f, nil

	case schema.Integer:
		f, ok := asNumber(v)
		if !ok || f != math.Trunc(f) {
			return nil, c.fail(path, "expected an integer, got %s", describe(v))
		}
		return f, nil

	case schema.Boolean:
		b, ok := asBool(v)
		if !ok {
			return nil, c.fail(path, "expected a boolean, got %s", describe(v))
		}
		return b, nil

	default:
		return v, nil
	}
}

func asObject(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[k] = val
		}
		return m, true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(x), &m); err != nil || m == nil {
			return nil, false
		}
		return m, true
	default:
		return nil, false
	}
}

func asArray(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return append([]any(nil), x...), true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case string:
		var a []any
		if err := json.Unmarshal([]byte(x), &a); err != nil || a == nil {
			return nil, false
		}
		return a, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	default:
		return false, false
	}
}

func describe(v any) string {
	switch v.(type) {
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case float64, float32, int, int64, json.Number:
		return "a number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
