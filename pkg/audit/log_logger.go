package audit

import (
	"context"

	"github.com/platinummonkey/memauthz/pkg/observability"
)

// StructuredLogger emits events as structured log lines. Denials are logged
// at warn and failures at error so operational alerting can key on level.
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates a logger writing through logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.WithField("component", "audit")}
}

// Log implements Logger
func (l *StructuredLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	for k, v := range map[string]string{
		"user_id":       event.UserID,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
		"action":        event.Action,
		"reason":        event.Reason,
		"request_id":    event.RequestID,
		"error":         event.ErrorMessage,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := observability.TraceLogger(ctx, l.logger.WithFields(fields))
	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	switch event.Status {
	case EventStatusFailure:
		entry.Error(msg)
	case EventStatusDenied:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
	return nil
}

// Close implements Logger
func (l *StructuredLogger) Close() error {
	return nil
}
