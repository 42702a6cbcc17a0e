// Package mock provides a scripted llm.Client for tests.
//
// Each call to StreamChat consumes the next scripted turn: plain text, text
// followed by tool calls, an error event, an open failure, or a stream that
// stays open until it is cancelled. Requests are recorded so tests can
// assert on what the model was shown.
//
//	client, _ := mock.NewClient("test-model", "mock")
//	client.
//	    WithToolCallResponse("", llm.ToolCall{FunctionName: "get_current_weather",
//	        Arguments: map[string]any{"location": "Paris, FR"}}).
//	    WithTextResponse("It is sunny in Paris.")
package mock
