package authz_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/cache"
)

func TestCheckAccess_MemberReadsProjectRecord(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, authz.ReasonScopeCovered, v.Reason)
	assert.Equal(t, userID, v.UserID)
	assert.Equal(t, ref, v.Resource)
	assert.Equal(t, testNow, v.CheckedAt)

	var matched []authz.ContributingEntry
	for _, e := range v.Trace {
		if e.Kind == authz.EntryGrant && e.Matched {
			matched = append(matched, e)
		}
	}
	require.Len(t, matched, 1)
	assert.Equal(t, "memory.mid_term:read", matched[0].Code)
	assert.Equal(t, "project", matched[0].Scope)
	assert.Equal(t, roleID(authz.RoleMember), matched[0].RoleID)
}

func TestCheckAccess_ClassificationCeiling(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleExecutive)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationConfidential, userID)
	w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: authz.AnyPermission, Effect: authz.EffectAllow})

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonClassificationViolation, v.Reason)
	for _, e := range v.Trace {
		assert.NotEqual(t, authz.EntryACE, e.Kind)
	}
}

func TestCheckAccess_ACLGrantOverridesMissingRole(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleSessionUser)
	ref := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, uuid.New())

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonNoPermission, v.Reason)

	aceID := w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectAllow})

	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, authz.ReasonACLGranted, v.Reason)
	last := v.Trace[len(v.Trace)-1]
	assert.Equal(t, authz.EntryACE, last.Kind)
	assert.Equal(t, aceID, last.ID)
	assert.Equal(t, authz.EffectAllow, last.Effect)
	assert.True(t, last.Matched)

	// the entry names read only
	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionDelete, ref, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonNoPermission, v.Reason)
}

func TestCheckAccess_ACLDenyOverridesRole(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
	w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectDeny})

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonACLDenied, v.Reason)

	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionWrite, ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestCheckAccess_AccountLocked(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationSecret, authz.RoleExecutive)
	ref := w.resource(authz.ResourceLongTermMemory, authz.ClassificationPublic, userID)
	w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: authz.AnyPermission, Effect: authz.EffectAllow})

	_, err := w.store.LockAccount(ctx, userID, testNow.Add(time.Hour))
	require.NoError(t, err)

	v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonAccountLocked, v.Reason)

	v, err = engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, v.Allowed, "lock lapses")

	_, err = w.store.DeactivateUser(ctx, userID)
	require.NoError(t, err)
	v, err = engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonAccountLocked, v.Reason)
}

func TestCheckAccess_ScopeViolationAndOwnScope(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)

	// members reach long term records they own only
	others := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, uuid.New())
	mine := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, userID)

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, others, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonScopeViolation, v.Reason)

	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, mine, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, authz.ReasonScopeCovered, v.Reason)
}

func TestCheckAccess_InheritedGrants(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	member := roleID(authz.RoleMember)
	reviewer := w.role("reviewer", 3, &member)
	userID := w.user(authz.ClassificationInternal)
	w.assign(userID, reviewer, nil)
	ref := w.resource(authz.ResourceShortTermMemory, authz.ClassificationInternal, uuid.New())

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionUpdate, ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	var via []authz.ContributingEntry
	for _, e := range v.Trace {
		if e.Matched {
			via = append(via, e)
		}
	}
	require.Len(t, via, 1)
	assert.Equal(t, member, via[0].RoleID)
	assert.Equal(t, reviewer, via[0].ViaRoleID)

	// executives read across departments
	exec := w.user(authz.ClassificationSecret, authz.RoleExecutive)
	elsewhere := authz.ResourceMeta{
		Ref:            authz.ResourceRef{ID: uuid.New(), Type: authz.ResourceLongTermMemory},
		OwnerID:        uuid.New(),
		DepartmentID:   uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Classification: authz.ClassificationSecret,
	}
	w.put(&elsewhere)
	v, err = engine.CheckAccess(context.Background(), exec, authz.ActionDelete, elsewhere.Ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, elsewhere.Ref, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonClassificationViolation, v.Reason)
}

func TestCheckAccess_DownwardInheritance(t *testing.T) {
	w := newWorld(t)
	userID := w.user(authz.ClassificationSecret, authz.RoleSessionUser)
	elsewhere := authz.ResourceMeta{
		Ref:            authz.ResourceRef{ID: uuid.New(), Type: authz.ResourceLongTermMemory},
		OwnerID:        uuid.New(),
		Classification: authz.ClassificationInternal,
	}
	w.put(&elsewhere)

	up := authz.NewEngine(w.store)
	v, err := up.CheckAccess(context.Background(), userID, authz.ActionRead, elsewhere.Ref, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonNoPermission, v.Reason)

	// session_user is the root of the descendant tree, so downward it
	// collects every role above it in the upward chain
	down := authz.NewEngine(w.store, authz.WithInheritance(authz.InheritDownward))
	assert.Equal(t, authz.InheritDownward, down.Direction())
	v, err = down.CheckAccess(context.Background(), userID, authz.ActionRead, elsewhere.Ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, authz.ReasonScopeCovered, v.Reason)
}

func TestCheckAccess_ExpiredAssignmentGrantsNothing(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationSecret)
	expired := testNow.Add(-time.Minute)
	w.assign(userID, roleID(authz.RoleExecutive), &expired)
	ref := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, uuid.New())

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonNoPermission, v.Reason)

	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, expired.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestCheckAccess_ACLPrincipalAxes(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleLead)

	tests := []struct {
		name  string
		entry func(ref authz.ResourceRef) authz.AccessControlEntry
	}{
		{"user", func(ref authz.ResourceRef) authz.AccessControlEntry {
			return authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID)}
		}},
		{"inherited role", func(ref authz.ResourceRef) authz.AccessControlEntry {
			return authz.AccessControlEntry{Resource: ref, RoleID: userPrincipal(roleID(authz.RoleMember))}
		}},
		{"department", func(ref authz.ResourceRef) authz.AccessControlEntry {
			return authz.AccessControlEntry{Resource: ref, DepartmentID: w.department}
		}},
		{"project", func(ref authz.ResourceRef) authz.AccessControlEntry {
			return authz.AccessControlEntry{Resource: ref, ProjectID: userPrincipal(w.project)}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
			e := tt.entry(ref)
			e.PermissionType = authz.AnyPermission
			e.Effect = authz.EffectDeny
			w.ace(e)

			v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
			require.NoError(t, err)
			assert.Equal(t, authz.ReasonACLDenied, v.Reason)
		})
	}

	t.Run("other principals do not apply", func(t *testing.T) {
		ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
		w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(uuid.New()), PermissionType: "read", Effect: authz.EffectDeny})
		w.ace(authz.AccessControlEntry{Resource: ref, RoleID: userPrincipal(roleID(authz.RoleExecutive)), PermissionType: "read", Effect: authz.EffectDeny})
		w.ace(authz.AccessControlEntry{Resource: ref, DepartmentID: userPrincipal(uuid.New()), PermissionType: "read", Effect: authz.EffectDeny})

		v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
		require.NoError(t, err)
		assert.True(t, v.Allowed)
		assert.Equal(t, authz.ReasonScopeCovered, v.Reason)
	})
}

func TestCheckAccess_DenyWinsAcrossAxes(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleSessionUser)
	ref := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, uuid.New())

	w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectAllow})
	w.ace(authz.AccessControlEntry{Resource: ref, ProjectID: userPrincipal(w.project), PermissionType: "read", Effect: authz.EffectDeny})

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonACLDenied, v.Reason)
}

func TestCheckAccess_ExpiredACE(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	past := testNow.Add(-time.Hour)

	ref := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, uuid.New())
	w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectAllow, ExpiresAt: &past})

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonExpired, v.Reason)

	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, past.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonACLGranted, v.Reason)

	// an expired deny no longer blocks the role grant
	covered := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
	w.ace(authz.AccessControlEntry{Resource: covered, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectDeny, ExpiresAt: &past})
	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, covered, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonScopeCovered, v.Reason)
}

func TestCheckAccess_RevokedACEIgnored(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
	aceID := w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectDeny})

	_, err := w.store.RevokeACE(context.Background(), aceID)
	require.NoError(t, err)

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)
}

func TestCheckAccess_NotFound(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

	v, err := engine.CheckAccess(context.Background(), uuid.New(), authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonNotFound, v.Reason)

	missing := authz.ResourceRef{ID: uuid.New(), Type: authz.ResourceMidTermMemory}
	v, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, missing, testNow)
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonNotFound, v.Reason)
}

func TestCheckAccess_FailsClosed(t *testing.T) {
	boom := errors.New("connection refused")

	for _, op := range []string{
		"GetUser",
		"GetResourceMeta",
		"GetActiveACEs",
		"GetActiveProjectIDs",
		"GetActiveRoleAssignments",
		"GetRole",
		"GetActiveRolePermissions",
	} {
		t.Run(op, func(t *testing.T) {
			w := newWorld(t)
			userID := w.user(authz.ClassificationInternal, authz.RoleMember)
			ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
			w.ace(authz.AccessControlEntry{Resource: ref, UserID: userPrincipal(userID), PermissionType: "read", Effect: authz.EffectAllow})

			rec := newDecisionRecorder()
			src := newFaultySource(w.store).failOn(op, boom)
			engine := authz.NewEngine(src, authz.WithRecorder(rec))

			v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, authz.ErrDataUnavailable)
			assert.ErrorIs(t, err, boom)
			assert.False(t, v.Allowed)
			assert.Equal(t, authz.ReasonDataUnavailable, v.Reason)
			assert.Equal(t, 1, rec.decisions[string(authz.ReasonDataUnavailable)])
			assert.Len(t, rec.dataErrs, 1)
		})
	}
}

func TestCheckAccess_MalformedACE(t *testing.T) {
	w := newWorld(t)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

	bad := authz.AccessControlEntry{
		ID:             uuid.New(),
		Resource:       ref,
		UserID:         userPrincipal(userID),
		ProjectID:      userPrincipal(w.project),
		PermissionType: "read",
		Effect:         authz.EffectAllow,
		IsActive:       true,
	}
	src := newFaultySource(w.store)
	src.aces = []authz.AccessControlEntry{bad}
	rec := newDecisionRecorder()
	engine := authz.NewEngine(src, authz.WithRecorder(rec))

	v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, authz.ErrMalformedACE)
	assert.True(t, authz.IsConfigurationError(err))
	assert.False(t, v.Allowed)
	assert.Equal(t, authz.ReasonConfigurationError, v.Reason)
	assert.Equal(t, 1, rec.confErrs[string(authz.MalformedACE)])
}

func TestCheckAccess_CyclicRoleGraph(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	engine := authz.NewEngine(w.store)

	a := w.role("loop-a", 4, nil)
	b := w.role("loop-b", 4, &a)
	_, err := w.store.CreateRole(ctx, &authz.Role{ID: a, Name: "loop-a", HierarchyLevel: 4, ParentRoleID: &b, IsActive: true})
	require.NoError(t, err)

	userID := w.user(authz.ClassificationInternal)
	w.assign(userID, b, nil)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, userID)

	v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, authz.ErrCycleDetected)
	assert.Equal(t, authz.ReasonConfigurationError, v.Reason)
	assert.False(t, v.Allowed)
}

func TestCheckAccess_ConditionalGrants(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store)

	analyst := w.role("analyst", 4, nil)
	w.grant(analyst, authz.PermissionFor(authz.ResourceLongTermMemory, authz.ActionRead, authz.ScopeOrganization),
		authz.Condition{Kind: authz.ConditionTimeWindow, TimeWindow: &authz.TimeWindow{Start: "09:00", End: "17:00", Weekdays: []string{"mon", "tue", "wed", "thu", "fri"}}},
		authz.Condition{Kind: authz.ConditionResourceTag, ResourceTag: &authz.TagMatch{Key: "team", Values: []string{"core", "infra"}}},
	)
	userID := w.user(authz.ClassificationInternal)
	w.assign(userID, analyst, nil)

	tagged := authz.ResourceMeta{
		Ref:            authz.ResourceRef{ID: uuid.New(), Type: authz.ResourceLongTermMemory},
		OwnerID:        uuid.New(),
		Classification: authz.ClassificationInternal,
		Tags:           map[string]string{"team": "core"},
	}
	w.put(&tagged)
	untagged := w.resource(authz.ResourceLongTermMemory, authz.ClassificationInternal, uuid.New())

	tests := []struct {
		name   string
		ref    authz.ResourceRef
		at     time.Time
		reason authz.Reason
	}{
		{"inside window with tag", tagged.Ref, testNow, authz.ReasonScopeCovered},
		{"after hours", tagged.Ref, time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC), authz.ReasonScopeViolation},
		{"weekend", tagged.Ref, time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC), authz.ReasonScopeViolation},
		{"missing tag", untagged, testNow, authz.ReasonScopeViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, tt.ref, tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestCheckAccess_AuditEvents(t *testing.T) {
	w := newWorld(t)
	rec := audit.NewRecorder(0)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())
	secret := w.resource(authz.ResourceMidTermMemory, authz.ClassificationSecret, uuid.New())

	engine := authz.NewEngine(w.store, authz.WithAuditLogger(rec))
	_, err := engine.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	_, err = engine.CheckAccess(context.Background(), userID, authz.ActionRead, secret, testNow)
	require.NoError(t, err)

	failing := authz.NewEngine(newFaultySource(w.store).failOn("GetUser", errors.New("timeout")), authz.WithAuditLogger(rec))
	_, err = failing.CheckAccess(context.Background(), userID, authz.ActionRead, ref, testNow)
	require.Error(t, err)

	events := rec.Filter(audit.EventTypeAuthzDecision)
	require.Len(t, events, 3)

	assert.Equal(t, audit.EventStatusSuccess, events[0].Status)
	assert.Equal(t, userID.String(), events[0].UserID)
	assert.Equal(t, string(authz.ResourceMidTermMemory), events[0].ResourceType)
	assert.Equal(t, ref.ID.String(), events[0].ResourceID)
	assert.Equal(t, "read", events[0].Action)
	assert.Equal(t, string(authz.ReasonScopeCovered), events[0].Reason)
	assert.NotEmpty(t, events[0].Metadata["trace"])

	assert.Equal(t, audit.EventStatusDenied, events[1].Status)
	assert.Equal(t, string(authz.ReasonClassificationViolation), events[1].Reason)

	assert.Equal(t, audit.EventStatusFailure, events[2].Status)
	assert.Contains(t, events[2].ErrorMessage, "timeout")
}

func TestCheckAccess_Concurrent(t *testing.T) {
	w := newWorld(t)
	engine := authz.NewEngine(w.store, authz.WithCache(cache.NewMemoryCache(cache.DefaultConfig(), nil)))
	member := w.user(authz.ClassificationInternal, authz.RoleMember)
	outsider := w.user(authz.ClassificationInternal, authz.RoleSessionUser)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			v, err := engine.CheckAccess(context.Background(), member, authz.ActionRead, ref, testNow)
			if err != nil || !v.Allowed {
				errs <- errors.New("member denied")
			}
		}()
		go func() {
			defer wg.Done()
			v, err := engine.CheckAccess(context.Background(), outsider, authz.ActionRead, ref, testNow)
			if err != nil || v.Allowed {
				errs <- errors.New("outsider allowed")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEngine_CacheInvalidation(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	src := newFaultySource(w.store)
	engine := authz.NewEngine(src, authz.WithCache(cache.NewMemoryCache(cache.DefaultConfig(), nil)))

	userID := w.user(authz.ClassificationInternal)
	asgID := w.assign(userID, roleID(authz.RoleMember), nil)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

	for i := 0; i < 3; i++ {
		v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
		require.NoError(t, err)
		assert.True(t, v.Allowed)
	}
	assert.Equal(t, 1, src.count("GetActiveRoleAssignments"))

	change, err := w.store.RevokeAssignment(ctx, userID, asgID)
	require.NoError(t, err)
	require.NoError(t, engine.Invalidate(ctx, change))

	v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonNoPermission, v.Reason)
	assert.Equal(t, 2, src.count("GetActiveRoleAssignments"))
}

func TestEngine_RevocationDuringLoadIsNotCached(t *testing.T) {
	caches := map[string]func(t *testing.T) authz.Cache{
		"memory": func(t *testing.T) authz.Cache {
			return cache.NewMemoryCache(cache.DefaultConfig(), nil)
		},
		"redis": func(t *testing.T) authz.Cache {
			mr := miniredis.RunT(t)
			cfg := cache.DefaultConfig()
			cfg.Backend = cache.BackendRedis
			cfg.RedisURL = "redis://" + mr.Addr()
			c, err := cache.NewRedisCache(cfg, nil)
			require.NoError(t, err)
			t.Cleanup(func() { c.Close() })
			return c
		},
	}

	for name, newCache := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := newWorld(t)
			src := newFaultySource(w.store)
			engine := authz.NewEngine(src, authz.WithCache(newCache(t)))

			userID := w.user(authz.ClassificationInternal)
			asgID := w.assign(userID, roleID(authz.RoleMember), nil)
			ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

			// the first check loads the grants granted before the revocation
			hold := src.pauseOn("GetActiveRolePermissions")
			done := make(chan *authz.Verdict, 1)
			go func() {
				v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
				assert.NoError(t, err)
				done <- v
			}()

			<-hold.entered
			change, err := w.store.RevokeAssignment(ctx, userID, asgID)
			require.NoError(t, err)
			require.NoError(t, engine.Invalidate(ctx, change))
			close(hold.release)
			<-done

			v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
			require.NoError(t, err)
			assert.False(t, v.Allowed)
			assert.Equal(t, authz.ReasonNoPermission, v.Reason)
			assert.Equal(t, 2, src.count("GetActiveRoleAssignments"))
		})
	}
}

func TestEngine_CachedAggregationExpires(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	engine := authz.NewEngine(w.store, authz.WithCache(cache.NewMemoryCache(cache.DefaultConfig(), nil)))

	userID := w.user(authz.ClassificationInternal)
	expires := testNow.Add(time.Minute)
	w.assign(userID, roleID(authz.RoleMember), &expires)
	ref := w.resource(authz.ResourceMidTermMemory, authz.ClassificationInternal, uuid.New())

	v, err := engine.CheckAccess(ctx, userID, authz.ActionRead, ref, testNow)
	require.NoError(t, err)
	assert.True(t, v.Allowed)

	v, err = engine.CheckAccess(ctx, userID, authz.ActionRead, ref, expires)
	require.NoError(t, err)
	assert.Equal(t, authz.ReasonNoPermission, v.Reason)
}

func TestEngine_EffectivePermissionsAndSubject(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	engine := authz.NewEngine(w.store)
	userID := w.user(authz.ClassificationInternal, authz.RoleMember)

	grants, err := engine.EffectivePermissions(ctx, userID, testNow)
	require.NoError(t, err)
	// member's twelve plus nothing new from session_user, whose short term
	// grants collapse into member's broader project scope
	assert.Len(t, grants, 12)
	for _, g := range grants {
		if g.Permission.ResourceType == authz.ResourceShortTermMemory {
			assert.Equal(t, authz.ScopeProject, g.Permission.Scope)
		}
	}

	subject, err := engine.Subject(ctx, userID, testNow)
	require.NoError(t, err)
	assert.Equal(t, userID, subject.User.ID)
	assert.Equal(t, []uuid.UUID{roleID(authz.RoleMember), roleID(authz.RoleSessionUser)}, subject.RoleIDs)
	assert.Equal(t, []uuid.UUID{w.project}, subject.ProjectIDs)
	assert.Equal(t, 4, subject.EffectiveLevel)

	_, err = engine.Subject(ctx, uuid.New(), testNow)
	assert.ErrorIs(t, err, authz.ErrNotFound)
	_, err = engine.EffectivePermissions(ctx, uuid.New(), testNow)
	assert.ErrorIs(t, err, authz.ErrNotFound)
}
