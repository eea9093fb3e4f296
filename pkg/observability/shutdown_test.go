package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"with custom timeout", 10 * time.Second, 10 * time.Second},
		{"with zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewShutdownManager(NopLogger(), nil, tt.timeout)
			if sm.shutdownTimeout != tt.expectedTimeout {
				t.Errorf("Expected timeout %v, got %v", tt.expectedTimeout, sm.shutdownTimeout)
			}
		})
	}
}

func TestShutdownManager_Shutdown(t *testing.T) {
	t.Run("runs every registered function", func(t *testing.T) {
		var buf bytes.Buffer
		sm := NewShutdownManager(NewLogger(InfoLevel, &buf), &http.Server{}, time.Second)

		var calls atomic.Int32
		for i := 0; i < 3; i++ {
			sm.RegisterShutdownFunc(func(context.Context) error {
				calls.Add(1)
				return nil
			})
		}

		if err := sm.Shutdown(context.Background()); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if calls.Load() != 3 {
			t.Errorf("Expected 3 calls, got %d", calls.Load())
		}
		if !bytes.Contains(buf.Bytes(), []byte("Graceful shutdown complete")) {
			t.Error("Expected completion to be logged")
		}
	})

	t.Run("collects errors", func(t *testing.T) {
		sm := NewShutdownManager(NopLogger(), nil, time.Second)
		closeErr := errors.New("store close failed")
		sm.RegisterShutdownFunc(func(context.Context) error { return closeErr })
		sm.RegisterShutdownFunc(func(context.Context) error { return nil })

		err := sm.Shutdown(context.Background())
		if err == nil {
			t.Fatal("Expected error")
		}
		if !errors.Is(err, closeErr) {
			t.Errorf("Expected wrapped close error, got %v", err)
		}
	})

	t.Run("times out slow functions", func(t *testing.T) {
		sm := NewShutdownManager(NopLogger(), nil, 20*time.Millisecond)
		sm.RegisterShutdownFunc(func(context.Context) error {
			time.Sleep(500 * time.Millisecond)
			return nil
		})

		err := sm.Shutdown(context.Background())
		if err == nil || err.Error() != "shutdown timeout reached" {
			t.Errorf("Expected timeout error, got %v", err)
		}
	})
}

func TestShutdownManager_WaitForShutdown(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var called atomic.Bool
	sm.RegisterShutdownFunc(func(context.Context) error {
		called.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return after cancellation")
	}
	if !called.Load() {
		t.Error("Expected shutdown function to run")
	}
}
