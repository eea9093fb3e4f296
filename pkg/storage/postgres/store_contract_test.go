package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

// runStoreContract exercises every read and write of s. It is shared by the
// SQLite tests and the PostgreSQL integration test.
func runStoreContract(t *testing.T, s *Store) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	dept := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	t.Run("users", func(t *testing.T) {
		u := authz.User{Username: "u-" + uuid.NewString()[:8], DepartmentID: dept, Clearance: authz.ClassificationSecret, IsActive: true}
		change, err := s.CreateUser(ctx, &u)
		require.NoError(t, err)
		assert.Equal(t, authz.Change{Kind: authz.ChangeUser, UserID: u.ID}, change)

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Username, got.Username)
		assert.Equal(t, dept, got.DepartmentID)
		assert.Equal(t, authz.ClassificationSecret, got.Clearance)
		assert.True(t, got.IsActive)
		assert.Nil(t, got.AccountLockedUntil)

		until := now.Add(30 * time.Minute)
		_, err = s.LockAccount(ctx, u.ID, until)
		require.NoError(t, err)
		got, err = s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got.AccountLockedUntil)
		assert.True(t, until.Equal(*got.AccountLockedUntil))
		assert.True(t, got.Locked(now))
		assert.False(t, got.Locked(until.Add(time.Second)))

		_, err = s.DeactivateUser(ctx, u.ID)
		require.NoError(t, err)
		got, err = s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		_, err = s.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, authz.ErrNotFound)
		_, err = s.DeactivateUser(ctx, uuid.New())
		assert.ErrorIs(t, err, authz.ErrNotFound)
	})

	t.Run("roles and permissions", func(t *testing.T) {
		parent := authz.Role{Name: "p-" + uuid.NewString()[:8], HierarchyLevel: 2, IsActive: true}
		_, err := s.CreateRole(ctx, &parent)
		require.NoError(t, err)
		child := authz.Role{Name: "c-" + uuid.NewString()[:8], HierarchyLevel: 3, ParentRoleID: &parent.ID, IsActive: true}
		_, err = s.CreateRole(ctx, &child)
		require.NoError(t, err)

		got, err := s.GetRole(ctx, child.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ParentRoleID)
		assert.Equal(t, parent.ID, *got.ParentRoleID)

		children, err := s.GetChildRoles(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, child.ID, children[0].ID)

		_, err = s.GetRole(ctx, uuid.New())
		assert.ErrorIs(t, err, authz.ErrNotFound)

		missing := uuid.New()
		_, err = s.CreateRole(ctx, &authz.Role{Name: "orphan", HierarchyLevel: 4, ParentRoleID: &missing})
		assert.ErrorIs(t, err, authz.ErrNotFound)

		perm := authz.PermissionFor(authz.ResourceMidTermMemory, authz.ActionShare, authz.ScopeDepartment)
		_, err = s.CreatePermission(ctx, &perm)
		require.NoError(t, err)

		conds := []authz.Condition{{
			Kind:       authz.ConditionTimeWindow,
			TimeWindow: &authz.TimeWindow{Start: "09:00", End: "17:00", Weekdays: []string{"mon"}},
		}}
		change, err := s.GrantPermission(ctx, child.ID, perm.ID, conds)
		require.NoError(t, err)
		assert.Equal(t, authz.ChangeRolePermission, change.Kind)
		_, err = s.GrantPermission(ctx, child.ID, perm.ID, nil)
		require.NoError(t, err)
		// idempotent
		_, err = s.GrantPermission(ctx, child.ID, perm.ID, nil)
		require.NoError(t, err)

		rps, err := s.GetActiveRolePermissions(ctx, child.ID)
		require.NoError(t, err)
		require.Len(t, rps, 2)
		assert.Empty(t, rps[0].Conditions)
		assert.Equal(t, conds, rps[1].Conditions)
		assert.Equal(t, perm.ID, rps[1].Permission.ID)
		assert.Equal(t, authz.ScopeDepartment, rps[1].Permission.Scope)

		_, err = s.GrantPermission(ctx, child.ID, perm.ID, []authz.Condition{{Kind: "nope"}})
		assert.ErrorIs(t, err, authz.ErrInvalidCondition)
	})

	t.Run("assignments", func(t *testing.T) {
		u := authz.User{Username: "a-" + uuid.NewString()[:8], Clearance: authz.ClassificationPublic, IsActive: true}
		_, err := s.CreateUser(ctx, &u)
		require.NoError(t, err)
		role := authz.Role{Name: "r-" + uuid.NewString()[:8], HierarchyLevel: 5, IsActive: true}
		_, err = s.CreateRole(ctx, &role)
		require.NoError(t, err)

		expires := now.Add(time.Hour)
		by := uuid.New()
		first := authz.UserRoleAssignment{UserID: u.ID, RoleID: role.ID, AssignedBy: &by, AssignedAt: now.Add(-2 * time.Hour), IsActive: true}
		second := authz.UserRoleAssignment{UserID: u.ID, RoleID: role.ID, AssignedAt: now.Add(-time.Hour), ExpiresAt: &expires, IsActive: true}
		for _, a := range []*authz.UserRoleAssignment{&first, &second} {
			change, err := s.AssignRole(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, authz.Change{Kind: authz.ChangeAssignment, UserID: u.ID}, change)
		}

		active, err := s.GetActiveRoleAssignments(ctx, u.ID, now)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, first.ID, active[0].ID)
		require.NotNil(t, active[0].AssignedBy)
		assert.Equal(t, by, *active[0].AssignedBy)
		require.NotNil(t, active[1].ExpiresAt)
		assert.True(t, expires.Equal(*active[1].ExpiresAt))

		active, err = s.GetActiveRoleAssignments(ctx, u.ID, expires)
		require.NoError(t, err)
		require.Len(t, active, 1)

		_, err = s.RevokeAssignment(ctx, u.ID, first.ID)
		require.NoError(t, err)
		active, err = s.GetActiveRoleAssignments(ctx, u.ID, now)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, second.ID, active[0].ID)

		_, err = s.RevokeAssignment(ctx, u.ID, uuid.New())
		assert.ErrorIs(t, err, authz.ErrNotFound)
	})

	t.Run("resources and aces", func(t *testing.T) {
		ref := authz.ResourceRef{ID: uuid.New(), Type: authz.ResourceLongTermMemory}
		project := uuid.NullUUID{UUID: uuid.New(), Valid: true}
		meta := authz.ResourceMeta{
			Ref:            ref,
			OwnerID:        uuid.New(),
			ProjectID:      project,
			DepartmentID:   dept,
			Classification: authz.ClassificationConfidential,
			Tags:           map[string]string{"team": "core"},
		}
		change, err := s.PutResource(ctx, &meta)
		require.NoError(t, err)
		assert.Equal(t, authz.ChangeResource, change.Kind)

		got, err := s.GetResourceMeta(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, meta, *got)

		_, err = s.GetResourceMeta(ctx, authz.ResourceRef{ID: ref.ID, Type: authz.ResourceShortTermMemory})
		assert.ErrorIs(t, err, authz.ErrNotFound)

		list, err := s.ListResources(ctx, authz.ResourceLongTermMemory)
		require.NoError(t, err)
		assert.Contains(t, list, meta)

		past := now.Add(-time.Hour)
		deny := authz.AccessControlEntry{
			Resource:       ref,
			DepartmentID:   dept,
			PermissionType: authz.AnyPermission,
			Effect:         authz.EffectDeny,
			IsActive:       true,
		}
		expired := authz.AccessControlEntry{
			Resource:       ref,
			ProjectID:      project,
			PermissionType: "read",
			Effect:         authz.EffectAllow,
			ExpiresAt:      &past,
			IsActive:       true,
		}
		for _, e := range []*authz.AccessControlEntry{&deny, &expired} {
			change, err := s.GrantACE(ctx, e)
			require.NoError(t, err)
			assert.Equal(t, authz.ChangeACE, change.Kind)
		}

		aces, err := s.GetActiveACEs(ctx, ref)
		require.NoError(t, err)
		require.Len(t, aces, 2)
		byID := map[uuid.UUID]authz.AccessControlEntry{aces[0].ID: aces[0], aces[1].ID: aces[1]}
		assert.Equal(t, authz.EffectDeny, byID[deny.ID].Effect)
		require.NotNil(t, byID[expired.ID].ExpiresAt)
		assert.True(t, past.Equal(*byID[expired.ID].ExpiresAt))

		_, err = s.RevokeACE(ctx, deny.ID)
		require.NoError(t, err)
		aces, err = s.GetActiveACEs(ctx, ref)
		require.NoError(t, err)
		require.Len(t, aces, 1)
		assert.Equal(t, expired.ID, aces[0].ID)

		bad := authz.AccessControlEntry{Resource: ref, PermissionType: "read", Effect: authz.EffectAllow, IsActive: true}
		_, err = s.GrantACE(ctx, &bad)
		assert.ErrorIs(t, err, authz.ErrMalformedACE)
		_, err = s.RevokeACE(ctx, uuid.New())
		assert.ErrorIs(t, err, authz.ErrNotFound)
	})

	t.Run("projects", func(t *testing.T) {
		u := authz.User{Username: "m-" + uuid.NewString()[:8], Clearance: authz.ClassificationPublic, IsActive: true}
		_, err := s.CreateUser(ctx, &u)
		require.NoError(t, err)

		active := storage.Project{Name: "active", IsActive: true}
		archived := storage.Project{Name: "archived", IsActive: false}
		left := storage.Project{Name: "left", DepartmentID: dept, IsActive: true}
		for _, p := range []*storage.Project{&active, &archived, &left} {
			_, err := s.PutProject(ctx, p)
			require.NoError(t, err)
			_, err = s.SetProjectMember(ctx, p.ID, u.ID, true)
			require.NoError(t, err)
		}
		_, err = s.SetProjectMember(ctx, left.ID, u.ID, false)
		require.NoError(t, err)

		ids, err := s.GetActiveProjectIDs(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{active.ID}, ids)
	})

	t.Run("built in roles", func(t *testing.T) {
		require.NoError(t, InitializeBuiltInRoles(ctx, s))
		// seeding twice is harmless
		require.NoError(t, InitializeBuiltInRoles(ctx, s))

		lead, err := s.GetRole(ctx, authz.BuiltInID("role:"+authz.RoleLead))
		require.NoError(t, err)
		require.NotNil(t, lead.ParentRoleID)
		assert.Equal(t, authz.BuiltInID("role:"+authz.RoleMember), *lead.ParentRoleID)

		perms, err := s.GetActiveRolePermissions(ctx, lead.ID)
		require.NoError(t, err)
		assert.Len(t, perms, 12)
		for _, p := range perms {
			assert.Equal(t, authz.ScopeProject, p.Permission.Scope)
		}
	})
}
