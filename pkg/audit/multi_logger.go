package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger fans events out to several loggers
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		errChan: make(chan error, len(loggers)*8+1),
	}
}

// SetAsync sets whether logging should be asynchronous
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.loggers) == 0 {
		return nil
	}
	if m.async {
		m.logAsync(ctx, event)
		return nil
	}
	return m.logSync(ctx, event)
}

// logSync keeps going after a failure and returns the first error
func (m *MultiLogger) logSync(ctx context.Context, event *AuditEvent) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) logAsync(ctx context.Context, event *AuditEvent) {
	// detach from request cancellation so late sinks still receive the event
	ctx = context.WithoutCancel(ctx)
	for _, logger := range m.loggers {
		m.wg.Add(1)
		go func(l Logger) {
			defer m.wg.Done()
			if err := l.Log(ctx, event); err != nil {
				select {
				case m.errChan <- err:
				default:
					// Channel full, drop error
				}
			}
		}(logger)
	}
}

// Wait waits for all async logging operations to complete
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// GetErrors drains errors collected during async logging
func (m *MultiLogger) GetErrors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending events and closes all loggers
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close logger: %w", errors.Join(errs...))
	}
	return nil
}
