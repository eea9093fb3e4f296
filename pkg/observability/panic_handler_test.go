package observability

import (
	"bytes"
	"strings"
	"testing"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	func() {
		defer RecoverPanic(logger, "policy reload")
		panic("bad policy")
	}()

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "PANIC recovered" {
		t.Errorf("Expected panic message, got %q", entries[0].Message)
	}
	if entries[0].Fields["panic"] != "bad policy" {
		t.Errorf("Expected panic value, got %v", entries[0].Fields["panic"])
	}
	if entries[0].Fields["context"] != "policy reload" {
		t.Errorf("Expected context field, got %v", entries[0].Fields["context"])
	}
	if stack, _ := entries[0].Fields["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Error("Expected stack trace")
	}
}

func TestRecoverPanicWithCallback(t *testing.T) {
	called := false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "scheduler", func() { called = true })
		panic("job failed")
	}()
	if !called {
		t.Error("Expected callback after panic")
	}

	called = false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "scheduler", func() { called = true })
	}()
	if called {
		t.Error("Expected no callback without panic")
	}
}

func TestMustRecover(t *testing.T) {
	if err := MustRecover(nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if err := MustRecover("boom"); err == nil || err.Error() != "panic: boom" {
		t.Errorf("Expected panic error, got %v", err)
	}
}
