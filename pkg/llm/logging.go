package llm

import (
	"context"
	"log/slog"
)

// LoggingMiddleware logs requests and stream outcomes with slog
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates a logging middleware. A nil logger uses slog.Default().
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

// Name implements Middleware
func (l *LoggingMiddleware) Name() string {
	return "logging"
}

// ProcessRequest implements Middleware
func (l *LoggingMiddleware) ProcessRequest(ctx context.Context, req *ChatRequest) (*ChatRequest, error) {
	l.logger.InfoContext(ctx, "llm request",
		slog.String("conversation_id", req.ConversationID),
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.Tools)),
	)
	return req, nil
}

// ProcessStreamEvent implements Middleware
func (l *LoggingMiddleware) ProcessStreamEvent(ctx context.Context, req *ChatRequest, event StreamEvent) (StreamEvent, error) {
	switch {
	case event.IsError():
		l.logger.ErrorContext(ctx, "llm stream failed",
			slog.String("conversation_id", req.ConversationID),
			slog.String("code", event.Error.Code),
			slog.String("error", event.Error.Message),
		)
	case event.IsDone():
		l.logger.InfoContext(ctx, "llm stream done",
			slog.String("conversation_id", req.ConversationID),
			slog.String("finish_reason", event.FinishReason),
			slog.Int("tool_calls", len(event.ToolCalls)),
		)
	default:
		l.logger.DebugContext(ctx, "llm stream delta",
			slog.String("conversation_id", req.ConversationID),
			slog.Int("bytes", len(event.Content)),
			slog.Int("tool_calls", len(event.ToolCalls)),
		)
	}
	return event, nil
}

// ProcessError implements Middleware
func (l *LoggingMiddleware) ProcessError(ctx context.Context, req *ChatRequest, err error) {
	l.logger.ErrorContext(ctx, "llm request failed",
		slog.String("conversation_id", req.ConversationID),
		slog.String("model", req.Model),
		slog.Any("error", err),
	)
}
