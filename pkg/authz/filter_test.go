package authz_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

func TestAccessFilter(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	engine := authz.NewEngine(w.store)

	member := w.user(authz.ClassificationInternal, authz.RoleMember)
	manager := w.user(authz.ClassificationConfidential, authz.RoleManager)
	exec := w.user(authz.ClassificationSecret, authz.RoleExecutive)
	nobody := w.user(authz.ClassificationSecret)

	inProject := authz.ResourceMeta{OwnerID: uuid.New(), ProjectID: uuid.NullUUID{UUID: w.project, Valid: true}, Classification: authz.ClassificationInternal}
	inDept := authz.ResourceMeta{OwnerID: uuid.New(), DepartmentID: w.department, Classification: authz.ClassificationInternal}
	elsewhere := authz.ResourceMeta{OwnerID: uuid.New(), Classification: authz.ClassificationInternal}
	secret := authz.ResourceMeta{OwnerID: uuid.New(), Classification: authz.ClassificationSecret}

	tests := []struct {
		name    string
		user    uuid.UUID
		matches map[string]bool
	}{
		{"member", member, map[string]bool{"project": true, "dept": false, "elsewhere": false, "secret": false}},
		{"manager", manager, map[string]bool{"project": true, "dept": true, "elsewhere": false, "secret": false}},
		{"executive", exec, map[string]bool{"project": true, "dept": true, "elsewhere": true, "secret": true}},
		{"no roles", nobody, map[string]bool{"project": false, "dept": false, "elsewhere": false, "secret": false}},
	}
	records := map[string]*authz.ResourceMeta{"project": &inProject, "dept": &inDept, "elsewhere": &elsewhere, "secret": &secret}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := engine.AccessFilter(ctx, tt.user, authz.ResourceMidTermMemory, authz.ActionRead, testNow)
			require.NoError(t, err)
			for key, want := range tt.matches {
				assert.Equal(t, want, f.Matches(records[key]), key)
			}
		})
	}

	f, err := engine.AccessFilter(ctx, exec, authz.ResourceMidTermMemory, authz.ActionRead, testNow)
	require.NoError(t, err)
	assert.True(t, f.Unrestricted)
	assert.Equal(t, authz.ScopeOrganization, f.Scope)

	f, err = engine.AccessFilter(ctx, manager, authz.ResourceMidTermMemory, authz.ActionRead, testNow)
	require.NoError(t, err)
	assert.Equal(t, authz.ScopeDepartment, f.Scope)
	assert.Equal(t, []uuid.UUID{w.project}, f.ProjectIDs)
	assert.Equal(t, w.department, f.DepartmentID)
	assert.False(t, f.Matches(nil))
}

func TestAccessFilter_Denied(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	engine := authz.NewEngine(w.store)

	locked := w.user(authz.ClassificationSecret, authz.RoleExecutive)
	_, err := w.store.LockAccount(ctx, locked, testNow.Add(time.Hour))
	require.NoError(t, err)

	f, err := engine.AccessFilter(ctx, locked, authz.ResourceLongTermMemory, authz.ActionRead, testNow)
	require.NoError(t, err)
	assert.True(t, f.Denied)
	assert.False(t, f.Matches(&authz.ResourceMeta{}))

	f, err = engine.AccessFilter(ctx, uuid.New(), authz.ResourceLongTermMemory, authz.ActionRead, testNow)
	require.NoError(t, err)
	assert.True(t, f.Denied)

	// conditional grants never widen a list filter
	hours := w.role("office-hours", 3, nil)
	w.grant(hours, authz.PermissionFor(authz.ResourceLongTermMemory, authz.ActionRead, authz.ScopeOrganization), window("09:00", "17:00"))
	userID := w.user(authz.ClassificationSecret)
	w.assign(userID, hours, nil)
	f, err = engine.AccessFilter(ctx, userID, authz.ResourceLongTermMemory, authz.ActionRead, testNow)
	require.NoError(t, err)
	assert.True(t, f.Denied)

	src := newFaultySource(w.store).failOn("GetActiveProjectIDs", assert.AnError)
	f, err = authz.NewEngine(src).AccessFilter(ctx, w.user(authz.ClassificationInternal, authz.RoleMember), authz.ResourceMidTermMemory, authz.ActionRead, testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, authz.ErrDataUnavailable)
	assert.True(t, f.Denied)
}
