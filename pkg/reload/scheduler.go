package reload

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/observability"
)

// Job is a unit of scheduled work
type Job func(ctx context.Context) error

// Scheduler runs periodic maintenance jobs on cron schedules
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *observability.Logger
	jobs   []string
}

// NewScheduler creates a stopped scheduler
func NewScheduler(logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Add schedules job under a standard five field cron spec. An empty spec
// is ignored.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		defer observability.RecoverPanic(s.logger, name)

		log := s.logger.WithField("job", name)
		if err := job(s.ctx); err != nil {
			log.WithError(err).Error("Scheduled job failed")
			return
		}
		log.Debug("Scheduled job completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs = append(s.jobs, name)
	s.logger.WithFields(map[string]interface{}{
		"job":      name,
		"schedule": spec,
	}).Info("Scheduled job")
	return nil
}

// Jobs returns the names of scheduled jobs
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.jobs...)
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshJob reloads the watched policy file
func RefreshJob(w *Watcher) Job {
	return func(ctx context.Context) error {
		return w.Reload(ctx, TriggerSchedule)
	}
}

// PurgeJob drops every cached expansion and aggregation
func PurgeJob(inv authz.Invalidator) Job {
	return func(ctx context.Context) error {
		return inv.Invalidate(ctx, authz.Change{Kind: authz.ChangeSnapshot})
	}
}
