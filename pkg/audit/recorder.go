package audit

import (
	"context"
	"sync"
)

// Recorder keeps events in memory, bounded to the most recent limit events.
// It backs the CLI's trace output and tests.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []*AuditEvent
}

// NewRecorder creates a recorder. limit <= 0 keeps everything.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Log implements Logger
func (r *Recorder) Log(_ context.Context, event *AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if r.limit > 0 && len(r.events) > r.limit {
		r.events = r.events[len(r.events)-r.limit:]
	}
	return nil
}

// Events returns a copy of the recorded events, oldest first
func (r *Recorder) Events() []*AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*AuditEvent(nil), r.events...)
}

// Filter returns recorded events of the given type
func (r *Recorder) Filter(eventType EventType) []*AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*AuditEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Close implements Logger
func (r *Recorder) Close() error {
	return nil
}
