// Package service assembles a running authorization service from config.
//
// New opens the configured store (memory, postgres or sqlite), builds the
// decision cache and the engine, and loads the policy file when the store is
// the memory backend. Administrative writes go through the Service so every
// write invalidates the affected cache entries and emits an admin.* audit
// event.
//
// Serve exposes the admin endpoints on the configured address:
//
//	GET /metrics        Prometheus metrics
//	GET /health/live    liveness
//	GET /health/ready   readiness of the store and, when used, Redis
//
// and runs the policy watcher and cron jobs until SIGINT or SIGTERM.
package service
