package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/memauthz/pkg/authz")

// Recorder receives decision metrics
type Recorder interface {
	RecordDecision(ctx context.Context, allowed bool, reason string, duration time.Duration)
	RecordDataSourceError(ctx context.Context, operation string)
	RecordConfigurationError(ctx context.Context, kind string)
}

// Engine is the authorization decision facade. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	src        DataSource
	cache      Cache
	direction  InheritanceDirection
	hierarchy  *HierarchyResolver
	aggregator *Aggregator
	scope      ScopeEvaluator
	gate       ClassificationGate
	acl        ACLResolver

	logger    *observability.Logger
	recorders []Recorder
	audit     audit.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithCache enables caching of role expansions and aggregations
func WithCache(c Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithInheritance sets the role inheritance direction
func WithInheritance(d InheritanceDirection) Option {
	return func(e *Engine) {
		e.direction = d
	}
}

// WithLogger sets the operational logger
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder adds a metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorders = append(e.recorders, r)
		}
	}
}

// WithAuditLogger sets the sink for decision events
func WithAuditLogger(l audit.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.audit = l
		}
	}
}

// NewEngine creates an engine evaluating against src
func NewEngine(src DataSource, opts ...Option) *Engine {
	e := &Engine{
		src:       src,
		cache:     NoopCache{},
		direction: InheritUpward,
		logger:    observability.NopLogger(),
		audit:     audit.NoOpLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hierarchy = NewHierarchyResolver(src, WithDirection(e.direction), WithExpansionCache(e.cache))
	e.aggregator = NewAggregator(src, e.hierarchy, e.cache)
	return e
}

// Direction returns the configured inheritance direction
func (e *Engine) Direction() InheritanceDirection {
	return e.direction
}

// CheckAccess decides whether userID may perform action on ref at now.
// Every outcome is a verdict. A non-nil error accompanies a DataUnavailable
// or ConfigurationError denial and is never returned with an allow.
func (e *Engine) CheckAccess(ctx context.Context, userID uuid.UUID, action Action, ref ResourceRef, now time.Time) (*Verdict, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "authz.CheckAccess", trace.WithAttributes(
		attribute.String("authz.user_id", userID.String()),
		attribute.String("authz.action", string(action)),
		attribute.String("authz.resource", ref.String()),
	))
	defer span.End()

	v, err := e.evaluate(ctx, userID, action, ref, now)
	if err != nil {
		v.Allowed = false
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logFailure(ctx, v, err)
	}
	span.SetAttributes(
		attribute.Bool("authz.allowed", v.Allowed),
		attribute.String("authz.reason", string(v.Reason)),
	)

	for _, r := range e.recorders {
		r.RecordDecision(ctx, v.Allowed, string(v.Reason), time.Since(start))
	}
	e.emitDecision(ctx, v, err)

	return v, err
}

func (e *Engine) evaluate(ctx context.Context, userID uuid.UUID, action Action, ref ResourceRef, now time.Time) (*Verdict, error) {
	v := &Verdict{
		UserID:    userID,
		Action:    action,
		Resource:  ref,
		CheckedAt: now,
	}

	var (
		user     *User
		meta     *ResourceMeta
		aces     []AccessControlEntry
		projects []uuid.UUID
	)
	var userErr, metaErr, aceErr, projErr error

	// independent reads; each error is classified below in precedence order
	var g errgroup.Group
	g.Go(func() error {
		user, userErr = e.src.GetUser(ctx, userID)
		return nil
	})
	g.Go(func() error {
		meta, metaErr = e.src.GetResourceMeta(ctx, ref)
		return nil
	})
	g.Go(func() error {
		aces, aceErr = e.src.GetActiveACEs(ctx, ref)
		return nil
	})
	g.Go(func() error {
		projects, projErr = e.src.GetActiveProjectIDs(ctx, userID)
		return nil
	})
	_ = g.Wait()

	if userErr != nil {
		return e.loadFailure(v, EntryUser, "get user", userErr)
	}
	if user.Locked(now) {
		v.deny(ReasonAccountLocked)
		v.record(ContributingEntry{Kind: EntryUser, ID: user.ID, Detail: "account inactive or locked"})
		return v, nil
	}

	if metaErr != nil {
		return e.loadFailure(v, EntryError, "get resource meta", metaErr)
	}
	if meta.Ref == (ResourceRef{}) {
		meta.Ref = ref
	}
	if !e.gate.Clears(user, meta) {
		v.deny(ReasonClassificationViolation)
		v.record(ContributingEntry{
			Kind:   EntryClassification,
			ID:     ref.ID,
			Detail: "clearance " + user.Clearance.String() + " below " + meta.Classification.String(),
		})
		return v, nil
	}

	if aceErr != nil {
		return e.fail(v, unavailable("get access control entries", aceErr))
	}
	if projErr != nil {
		return e.fail(v, unavailable("get project memberships", projErr))
	}

	agg, err := e.aggregator.Aggregate(ctx, user, now)
	if err != nil {
		return e.fail(v, err)
	}

	subject := &Subject{
		User:           user,
		RoleIDs:        agg.RoleIDs(),
		ProjectIDs:     projects,
		EffectiveLevel: agg.EffectiveLevel,
	}

	e.roleVerdict(v, agg.Matching(ref.Type, action), subject, meta, now)

	final, err := e.acl.Resolve(subject, action, meta, *v, aces, now)
	return &final, err
}

// roleVerdict sets the tentative role-derived outcome on v
func (e *Engine) roleVerdict(v *Verdict, grants []Grant, subject *Subject, meta *ResourceMeta, now time.Time) {
	if len(grants) == 0 {
		v.deny(ReasonNoPermission)
		return
	}

	v.deny(ReasonScopeViolation)
	for _, g := range grants {
		if !EvaluateAll(g.Conditions, now, meta) {
			v.record(grantEntry(g, false, "conditions not met"))
			continue
		}
		level, ok := e.scope.CoveringScope(g.Permission.Scope, subject, meta)
		if !ok {
			v.record(grantEntry(g, false, "scope does not cover resource"))
			continue
		}
		v.record(grantEntry(g, true, "covered at "+level.String()))
		v.allow(ReasonScopeCovered)
	}
}

func (e *Engine) loadFailure(v *Verdict, kind EntryKind, op string, err error) (*Verdict, error) {
	if errors.Is(err, ErrNotFound) {
		v.deny(ReasonNotFound)
		v.record(ContributingEntry{Kind: kind, Detail: op + ": not found"})
		return v, nil
	}
	return e.fail(v, unavailable(op, err))
}

// fail turns err into a fail-closed verdict
func (e *Engine) fail(v *Verdict, err error) (*Verdict, error) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		v.deny(ReasonConfigurationError)
		v.record(ContributingEntry{Kind: EntryError, ID: ce.ID, Detail: ce.Error()})
		return v, err
	}
	v.deny(ReasonDataUnavailable)
	v.record(ContributingEntry{Kind: EntryError, Detail: err.Error()})
	if !errors.Is(err, ErrDataUnavailable) {
		err = unavailable("evaluate", err)
	}
	return v, err
}

func (e *Engine) logFailure(ctx context.Context, v *Verdict, err error) {
	logger := observability.TraceLogger(ctx, e.logger).WithFields(map[string]interface{}{
		"user_id":  v.UserID.String(),
		"action":   string(v.Action),
		"resource": v.Resource.String(),
	}).WithError(err)

	var ce *ConfigurationError
	if errors.As(err, &ce) {
		for _, r := range e.recorders {
			r.RecordConfigurationError(ctx, string(ce.Kind))
		}
		logger.WithField("kind", string(ce.Kind)).Error("authorization configuration error")
		return
	}

	op := "unknown"
	var de *dataError
	if errors.As(err, &de) {
		op = de.op
	}
	for _, r := range e.recorders {
		r.RecordDataSourceError(ctx, op)
	}
	logger.WithField("operation", op).Warn("data source unavailable, denying")
}

func (e *Engine) emitDecision(ctx context.Context, v *Verdict, err error) {
	event := audit.NewEvent(ctx, audit.EventTypeAuthzDecision, audit.StatusFor(v.Allowed, err))
	event.UserID = v.UserID.String()
	event.ResourceType = string(v.Resource.Type)
	event.ResourceID = v.Resource.ID.String()
	event.Action = string(v.Action)
	event.Reason = string(v.Reason)
	event.Metadata["trace"] = v.Trace
	event.Metadata["checked_at"] = v.CheckedAt
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	if logErr := e.audit.Log(ctx, event); logErr != nil {
		e.logger.WithError(logErr).Warn("failed to emit audit event")
	}
}

// ExpandRole returns the inheritance closure of roleID for diagnostics
func (e *Engine) ExpandRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "authz.ExpandRole", trace.WithAttributes(
		attribute.String("authz.role_id", roleID.String()),
		attribute.String("authz.direction", string(e.direction)),
	))
	defer span.End()

	ids, err := e.hierarchy.Expand(ctx, roleID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			for _, r := range e.recorders {
				r.RecordConfigurationError(ctx, string(ce.Kind))
			}
			e.logger.WithError(err).WithField("role_id", roleID.String()).Error("role hierarchy misconfigured")
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("authz.roles", len(ids)))
	return ids, nil
}

// Subject loads userID with its effective roles and project memberships
func (e *Engine) Subject(ctx context.Context, userID uuid.UUID, now time.Time) (*Subject, error) {
	user, err := e.src.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, unavailable("get user", err)
	}
	projects, err := e.src.GetActiveProjectIDs(ctx, userID)
	if err != nil {
		return nil, unavailable("get project memberships", err)
	}
	agg, err := e.aggregator.Aggregate(ctx, user, now)
	if err != nil {
		return nil, err
	}
	return &Subject{
		User:           user,
		RoleIDs:        agg.RoleIDs(),
		ProjectIDs:     projects,
		EffectiveLevel: agg.EffectiveLevel,
	}, nil
}

// EffectivePermissions returns the deduplicated grants userID holds at now
func (e *Engine) EffectivePermissions(ctx context.Context, userID uuid.UUID, now time.Time) ([]Grant, error) {
	user, err := e.src.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, unavailable("get user", err)
	}
	agg, err := e.aggregator.Aggregate(ctx, user, now)
	if err != nil {
		return nil, err
	}
	return append([]Grant(nil), agg.Grants...), nil
}

// Invalidate drops cached state affected by change
func (e *Engine) Invalidate(ctx context.Context, change Change) error {
	return InvalidateFor(ctx, e.cache, change)
}
