package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/memauthz/pkg/cache"
	"github.com/platinummonkey/memauthz/pkg/observability"
	"github.com/platinummonkey/memauthz/pkg/storage/postgres"
)

// Version is reported by the readiness endpoint
var Version = "dev"

// HealthChecker builds the readiness probes for the configured backends
func (s *Service) HealthChecker() *observability.HealthChecker {
	var (
		db  *sql.DB
		rdb *redis.Client
	)
	if pg, ok := s.store.(*postgres.Store); ok {
		db = pg.Connections().Primary()
	}
	if rc, ok := s.cache.(*cache.RedisCache); ok {
		rdb = rc.Client()
	}

	h := observability.NewHealthChecker(db, rdb)
	h.SetVersion(Version)
	h.AddCheck("store", s.store.HealthCheck, true)
	return h
}

// Router returns the admin routes: Prometheus metrics and health probes
func (s *Service) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(s.metrics))

	if s.cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(s.registry)).Methods(http.MethodGet)
	}
	s.HealthChecker().RegisterRoutes(router)
	return router
}

// NewAdminServer builds the admin HTTP server
func (s *Service) NewAdminServer() *http.Server {
	srv := s.cfg.Server
	return &http.Server{
		Addr:         srv.Addr(),
		Handler:      otelhttp.NewHandler(s.Router(), "memauthz.admin"),
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		IdleTimeout:  srv.IdleTimeout,
	}
}

// Serve runs the admin server, the policy watcher and the scheduler until
// SIGINT, SIGTERM or ctx cancellation, then shuts everything down
func (s *Service) Serve(ctx context.Context) error {
	server := s.NewAdminServer()
	lis, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	return s.serve(ctx, server, lis)
}

func (s *Service) serve(ctx context.Context, server *http.Server, lis net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Start(runCtx)
	if pg, ok := s.store.(*postgres.Store); ok {
		conns := pg.Connections()
		if len(conns.AllReplicas()) > 0 {
			conns.StartHealthCheckRoutine(runCtx, 30*time.Second)
		}
		go s.collectPoolStats(runCtx, conns, 15*time.Second)
	}

	shutdown := observability.NewShutdownManager(s.logger, server, s.cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return s.Close()
	})

	serveErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(s.logger, "admin server")
		s.logger.WithField("addr", lis.Addr().String()).Info("Admin server listening")
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	if err := shutdown.WaitForShutdown(runCtx); err != nil {
		return err
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("admin server failed: %w", err)
	default:
		return nil
	}
}

// collectPoolStats publishes primary pool usage until ctx is done
func (s *Service) collectPoolStats(ctx context.Context, conns *postgres.ConnectionManager, interval time.Duration) {
	defer observability.RecoverPanic(s.logger, "pool stats")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats := conns.Stats().Primary
		s.metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
		s.metrics.DBConnectionsInUse.Set(float64(stats.InUse))

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
