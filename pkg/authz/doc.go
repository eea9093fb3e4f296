// Package authz decides whether a user may act on a memory record, project,
// department or role.
//
// # Decision pipeline
//
// Engine.CheckAccess evaluates, in order:
//
//  1. account state: an inactive or locked user is denied (AccountLocked)
//  2. classification: clearance must dominate the resource classification;
//     failure is final and no ACL can override it (ClassificationViolation)
//  3. role grants: active assignments are expanded through the role
//     hierarchy and their permissions aggregated (NoPermission when none
//     match the resource type and action)
//  4. scope: a matching grant whose scope reaches the resource allows
//     (ScopeCovered), otherwise ScopeViolation
//  5. ACL overrides: explicit deny beats explicit allow beats the role
//     verdict (ACLDenied, ACLGranted, Expired)
//
// Data source failures fail closed with DataUnavailable and a non-nil error.
// Broken role graphs and malformed ACEs deny with ConfigurationError.
//
// # Usage
//
//	engine := authz.NewEngine(store,
//		authz.WithCache(cache.NewMemoryCache(cache.DefaultConfig(), metrics)),
//		authz.WithRecorder(metrics),
//		authz.WithAuditLogger(auditSink),
//	)
//	verdict, err := engine.CheckAccess(ctx, userID, authz.ActionRead,
//		authz.ResourceRef{ID: memoryID, Type: authz.ResourceLongTermMemory}, time.Now())
//
// # Inheritance
//
// By default a role inherits from its parent chain (InheritUpward).
// WithInheritance(InheritDownward) instead expands a role to its descendants.
// Both walks are bounded by MaxHierarchyDepth and report cycles as
// ConfigurationError{Kind: CycleDetected}.
package authz
