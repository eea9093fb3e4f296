// Package reload keeps a running engine in step with its policy source.
//
// Watcher reloads a memory store from its policy file when the file changes
// and invalidates the engine's caches. A policy that fails to load leaves the
// previous snapshot in place. Scheduler runs RefreshJob and PurgeJob on cron
// schedules for deployments where file events are unreliable.
//
//	w := reload.NewWatcher(cfg.Storage.PolicyFile, store, engine,
//		reload.WithRecorder(metrics),
//		reload.WithAuditLogger(auditLogger),
//	)
//	go w.Run(ctx)
package reload
