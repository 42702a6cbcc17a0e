// Package agent runs tool-using conversations against a streaming model.
//
// A run submits the session history and the registered tools to the
// backend, forwards each streamed text fragment to a StreamConsumer, and
// records the assistant message. When the message requests tools, the calls
// are dispatched, their results are appended as tool messages in call order
// and the model is asked again. The run ends when the model answers without
// requesting tools.
//
//	registry := tools.NewRegistry()
//	_ = registry.RegisterFunc("get_current_weather", "Get the current weather", params, handler)
//
//	ag := agent.New(client, registry,
//	    agent.WithStreamConsumer(agent.NewWriterConsumer(os.Stdout)),
//	    agent.WithLogger(logger))
//
//	session := ag.NewSession("1234")
//	res, err := ag.Run(ctx, session, llm.NewUserMessage("How is weather today in Paris?"))
//
// Failures of individual tools never end a run: unknown tools, bad
// arguments, handler errors and panics are reported back to the model as
// tool messages. A broken stream ends the run with a *StreamError, and a
// turn that overruns WithTurnTimeout ends it with a *TurnError. Cancelling
// the context is not an error; the history is left well formed and the
// result has StatusCancelled.
package agent
