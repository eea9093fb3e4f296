package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/cache"
	"github.com/platinummonkey/memauthz/pkg/config"
	"github.com/platinummonkey/memauthz/pkg/observability"
	"github.com/platinummonkey/memauthz/pkg/reload"
	"github.com/platinummonkey/memauthz/pkg/storage"
	"github.com/platinummonkey/memauthz/pkg/storage/memory"
	"github.com/platinummonkey/memauthz/pkg/storage/postgres"
)

// Service wires a store, a cache and an engine from configuration and keeps
// them consistent across administrative writes and policy reloads
type Service struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	audit    audit.Logger
	extra    []authz.Recorder

	store   storage.Store
	memory  *memory.Store // set when the store is the memory backend
	cache   authz.Cache
	engine  *authz.Engine
	watcher *reload.Watcher
	sched   *reload.Scheduler

	runCancel context.CancelFunc
	runGroup  *errgroup.Group
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the operational logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger sets the sink for decision and administrative events
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithRecorder adds a decision recorder alongside the Prometheus metrics
func WithRecorder(r authz.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.extra = append(s.extra, r)
		}
	}
}

// WithRegistry registers metrics on registry instead of a private one
func WithRegistry(r *prometheus.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithStore uses store instead of opening one from configuration
func WithStore(store storage.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// New builds a service from cfg. For a memory store with a policy file the
// file is loaded before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		logger: observability.NopLogger(),
		audit:  audit.NoOpLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = observability.NewMetrics(s.registry)

	if s.store == nil {
		store, err := OpenStore(ctx, cfg.Storage, s.logger)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	s.memory, _ = s.store.(*memory.Store)

	c, err := cache.New(cfg.Cache, s.metrics)
	if err != nil {
		s.store.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	s.cache = c

	engineOpts := []authz.Option{
		authz.WithCache(s.cache),
		authz.WithInheritance(cfg.Engine.Inheritance),
		authz.WithLogger(s.logger.WithField("component", "engine")),
		authz.WithRecorder(s.metrics),
		authz.WithAuditLogger(s.audit),
	}
	for _, r := range s.extra {
		engineOpts = append(engineOpts, authz.WithRecorder(r))
	}
	s.engine = authz.NewEngine(s.store, engineOpts...)

	if s.memory != nil && cfg.Storage.PolicyFile != "" {
		s.watcher = reload.NewWatcher(cfg.Storage.PolicyFile, s.memory, s.engine,
			reload.WithRecorder(s.metrics),
			reload.WithAuditLogger(s.audit),
			reload.WithLogger(s.logger.WithField("component", "reload")),
			reload.WithDebounce(cfg.Reload.Debounce),
		)
		if err := s.watcher.Reload(ctx, reload.TriggerStartup); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to load policy: %w", err)
		}
	}

	s.sched = reload.NewScheduler(s.logger.WithField("component", "scheduler"))
	if s.watcher != nil {
		if err := s.sched.Add("policy_refresh", cfg.Reload.RefreshSchedule, reload.RefreshJob(s.watcher)); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := s.sched.Add("cache_purge", cfg.Reload.PurgeSchedule, reload.PurgeJob(s.engine)); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"store":       cfg.Storage.Type,
		"cache":       cfg.Cache.Backend,
		"inheritance": string(s.engine.Direction()),
	}).Info("Authorization service initialized")
	return s, nil
}

// OpenStore opens the backend selected by cfg.Type
func OpenStore(ctx context.Context, cfg storage.Config, logger *observability.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "", "memory":
		store := memory.NewStore()
		if cfg.SeedBuiltIns && cfg.PolicyFile == "" {
			store.SeedBuiltInRoles()
		}
		return store, nil
	case "postgres", "sqlite":
		store, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
}

// Engine returns the decision engine
func (s *Service) Engine() *authz.Engine {
	return s.engine
}

// Store returns the backing store
func (s *Service) Store() storage.Store {
	return s.store
}

// Metrics returns the service metrics
func (s *Service) Metrics() *observability.Metrics {
	return s.metrics
}

// Registry returns the registry metrics are registered on
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Watcher returns the policy watcher, nil unless the store is loaded from a file
func (s *Service) Watcher() *reload.Watcher {
	return s.watcher
}

// Start launches the policy watcher and the scheduler. They stop when ctx
// is done or Close is called.
func (s *Service) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.runCancel = cancel
	s.runGroup = g

	if s.watcher != nil && s.cfg.Reload.WatchPolicy {
		g.Go(func() error {
			return s.watcher.Run(gctx)
		})
	}
	s.sched.Start()
}

// Close stops background work and releases the cache and the store
func (s *Service) Close() error {
	var errs []error
	if s.runCancel != nil {
		s.runCancel()
		if err := s.runGroup.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.sched != nil {
		if err := s.sched.Stop(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if closer, ok := s.cache.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close cache: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}
