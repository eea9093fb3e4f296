// Package audit carries authorization decision and administrative events
// from the engine to pluggable sinks.
//
// The engine emits one EventTypeAuthzDecision event per CheckAccess call,
// carrying the verdict reason and a compact trace in Metadata. Sinks deliver
// events elsewhere and never persist them:
//
//   - StructuredLogger writes events through the observability logger
//   - WriterLogger streams NDJSON to any io.Writer
//   - Recorder keeps the most recent events in memory
//   - MultiLogger fans out to several sinks, optionally asynchronously
//
// Usage:
//
//	sink := audit.NewMultiLogger(
//		audit.NewStructuredLogger(logger),
//		audit.NewWriterLogger(os.Stderr),
//	)
//	engine := authz.NewEngine(src, authz.WithAuditLogger(sink))
package audit
