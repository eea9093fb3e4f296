// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown for memauthz.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Warn("data source unavailable")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	engine := authz.NewEngine(src, authz.WithRecorder(metrics))
//
// Decision counters are labelled by result (allow/deny) and reason code.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "memauthz",
//		Traces:      true,
//		Metrics:     true,
//	}, logger)
//	defer providers.Shutdown(ctx)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("policy", store.Ready, true)
//	checker.RegisterRoutes(router)
package observability
