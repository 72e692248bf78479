package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	// RequestIDKey carries the per-request id set by the admin API middleware.
	RequestIDKey contextKey = "request_id"
	// EventIDKey carries the id of the platform event being dispatched.
	EventIDKey contextKey = "event_id"
	// UserIDKey carries the acting user's id.
	UserIDKey contextKey = "user_id"
)

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.Logger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{
		logger: logger,
	}
}

// WithContext adds context fields to logger
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	fields := []zapcore.Field{}

	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		if id, ok := requestID.(string); ok {
			fields = append(fields, zap.String("request_id", id))
		}
	}

	if eventID := ctx.Value(EventIDKey); eventID != nil {
		if id, ok := eventID.(string); ok {
			fields = append(fields, zap.String("event_id", id))
		}
	}

	if userID := ctx.Value(UserIDKey); userID != nil {
		if id, ok := userID.(string); ok {
			fields = append(fields, zap.String("user_id", id))
		}
	}

	return cl.logger.With(fields...)
}

// WithEvent returns a context annotated with event and user ids for logging.
func WithEvent(ctx context.Context, eventID, userID string) context.Context {
	ctx = context.WithValue(ctx, EventIDKey, eventID)
	return context.WithValue(ctx, UserIDKey, userID)
}
