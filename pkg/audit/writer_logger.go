package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// WriterLogger streams events as newline-delimited JSON to an io.Writer.
// It hands events to whatever consumes the stream and keeps nothing itself.
type WriterLogger struct {
	mu      sync.Mutex
	w       io.Writer
	encoder *json.Encoder
}

// NewWriterLogger creates a logger writing NDJSON to w
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{
		w:       w,
		encoder: json.NewEncoder(w),
	}
}

// Log writes event as one JSON line
func (l *WriterLogger) Log(ctx context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying writer when it is an io.Closer
func (l *WriterLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ReadEvents decodes up to count NDJSON events from r. count <= 0 reads all.
func ReadEvents(r io.Reader, count int) ([]*AuditEvent, error) {
	var events []*AuditEvent
	decoder := json.NewDecoder(r)

	for {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit event: %w", err)
		}
		events = append(events, &event)

		if count > 0 && len(events) >= count {
			break
		}
	}

	return events, nil
}
