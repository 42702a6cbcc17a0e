// Package tools dispatches model tool calls to registered handlers.
//
// A Registry maps tool names to handlers together with their schema. Calls
// coming from the model are untrusted: Dispatch reports unknown names,
// missing or malformed arguments, failing handlers and panicking handlers as
// ordinary errors, never by crashing.
//
//	reg := tools.NewRegistry(tools.WithTimeout(10 * time.Second))
//	err := reg.RegisterFunc("get_current_weather", "Get the current weather",
//	    schema.Object{
//	        Properties: map[string]schema.Parameter{"location": schema.String{}},
//	        Required:   []string{"location"},
//	    },
//	    func(ctx context.Context, args map[string]any) (any, error) {
//	        return forecast(args["location"].(string)), nil
//	    })
//
//	payload, err := reg.Dispatch(ctx, call)
//	content := tools.FormatResult(payload, err)
package tools
