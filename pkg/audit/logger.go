package audit

import (
	"context"
	"time"
)

// Logger receives audit events. Implementations deliver events to a sink
// and never decide anything; persistence is the sink's concern.
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const (
	// AuditLoggerKey is the context key for the audit logger
	AuditLoggerKey contextKey = "audit_logger"

	// RequestIDKey carries a caller-supplied request ID into events
	RequestIDKey contextKey = "request_id"
)

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoOpLogger()
}

// WithRequestID attaches a request ID that NewEvent copies into events
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// NoOpLogger returns a logger that drops every event
func NoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }

func (noOpLogger) Close() error { return nil }

// NewEvent creates an event with the timestamp and request ID populated
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		event.RequestID = reqID
	}
	return event
}

// LogSuccess logs a successful event to the logger in ctx
func LogSuccess(ctx context.Context, eventType EventType, message string, metadata map[string]interface{}) error {
	event := NewEvent(ctx, eventType, EventStatusSuccess)
	event.Message = message
	if metadata != nil {
		event.Metadata = metadata
	}
	return FromContext(ctx).Log(ctx, event)
}

// LogFailure logs a failed event to the logger in ctx
func LogFailure(ctx context.Context, eventType EventType, message string, err error) error {
	event := NewEvent(ctx, eventType, EventStatusFailure)
	event.Message = message
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return FromContext(ctx).Log(ctx, event)
}
