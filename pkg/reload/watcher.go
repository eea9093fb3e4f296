package reload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/observability"
)

// Reload triggers reported to metrics and audit
const (
	TriggerStartup  = "startup"
	TriggerWatch    = "watch"
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// PolicyLoader replaces a store's contents from a policy file
type PolicyLoader interface {
	LoadFile(path string) (authz.Change, error)
}

// Recorder counts reload attempts
type Recorder interface {
	RecordPolicyReload(trigger string, err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordPolicyReload(string, error) {}

// Watcher reloads a policy file into a store when it changes on disk
type Watcher struct {
	path     string
	loader   PolicyLoader
	inv      authz.Invalidator
	recorder Recorder
	audit    audit.Logger
	logger   *observability.Logger
	debounce time.Duration

	mu sync.Mutex // serializes reloads
}

// Option configures a Watcher
type Option func(*Watcher)

// WithRecorder records every reload attempt
func WithRecorder(r Recorder) Option {
	return func(w *Watcher) {
		if r != nil {
			w.recorder = r
		}
	}
}

// WithAuditLogger emits a config.policy_reload event per reload
func WithAuditLogger(l audit.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.audit = l
		}
	}
}

// WithLogger sets the operational logger
func WithLogger(l *observability.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce collapses bursts of file events into one reload
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the policy file at path
func NewWatcher(path string, loader PolicyLoader, inv authz.Invalidator, opts ...Option) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		inv:      inv,
		recorder: noopRecorder{},
		audit:    audit.NoOpLogger(),
		logger:   observability.NopLogger(),
		debounce: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the watched policy file
func (w *Watcher) Path() string {
	return w.path
}

// Reload loads the policy file and invalidates derived caches. A policy that
// fails to parse or compile leaves the store unchanged.
func (w *Watcher) Reload(ctx context.Context, trigger string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	change, err := w.loader.LoadFile(w.path)
	if err == nil {
		if ierr := w.inv.Invalidate(ctx, change); ierr != nil {
			err = fmt.Errorf("policy loaded but cache invalidation failed: %w", ierr)
		}
	}
	w.recorder.RecordPolicyReload(trigger, err)

	event := audit.NewEvent(ctx, audit.EventTypeConfigPolicyReload, audit.StatusFor(true, err))
	event.ResourceType = "policy"
	event.ResourceID = w.path
	event.Metadata["trigger"] = trigger
	event.Metadata["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	_ = w.audit.Log(ctx, event)

	log := w.logger.WithFields(map[string]interface{}{
		"path":    w.path,
		"trigger": trigger,
	})
	if err != nil {
		log.WithError(err).Error("Policy reload failed")
		return err
	}
	log.Info("Policy reloaded")
	return nil
}

// Run watches the policy file until ctx is done. The parent directory is
// watched so editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.WithField("path", w.path).Info("Watching policy file")

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			w.reloadSafely(ctx, TriggerWatch)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Policy watcher error")
		}
	}
}

func (w *Watcher) reloadSafely(ctx context.Context, trigger string) {
	defer observability.RecoverPanic(w.logger, "policy reload")
	_ = w.Reload(ctx, trigger)
}
