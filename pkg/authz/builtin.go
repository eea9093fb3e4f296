package authz

import (
	"github.com/google/uuid"
)

// Built-in role names
const (
	RoleExecutive   = "executive"
	RoleManager     = "manager"
	RoleLead        = "lead"
	RoleMember      = "member"
	RoleSessionUser = "session_user"
)

// builtInNamespace seeds deterministic IDs so every store agrees on them
var builtInNamespace = uuid.MustParse("5b0f3c36-2a8e-4d1f-9a0c-6f1d2b7e4c11")

// BuiltInID returns the stable ID of a built-in role or permission name
func BuiltInID(name string) uuid.UUID {
	return uuid.NewSHA1(builtInNamespace, []byte(name))
}

// BuiltInRole is a seedable role with the permissions attached directly to it
type BuiltInRole struct {
	Role        Role
	Permissions []Permission
}

var memoryActions = []Action{ActionRead, ActionWrite, ActionUpdate, ActionDelete}

// BuiltInRoles returns the default memory access matrix as roles, most
// senior first. Each role's parent is the next junior role so upward
// inheritance composes them:
//
//	level 1 executive     organization on every tier
//	level 2 manager       department on every tier
//	level 3 lead          project on every tier
//	level 4 member        project on short and mid term, own on long term
//	level 5 session_user  own on short term only
func BuiltInRoles() []BuiltInRole {
	type tierScopes map[ResourceType]Scope
	defs := []struct {
		name   string
		level  int
		scopes tierScopes
	}{
		{RoleExecutive, 1, tierScopes{
			ResourceShortTermMemory: ScopeOrganization,
			ResourceMidTermMemory:   ScopeOrganization,
			ResourceLongTermMemory:  ScopeOrganization,
		}},
		{RoleManager, 2, tierScopes{
			ResourceShortTermMemory: ScopeDepartment,
			ResourceMidTermMemory:   ScopeDepartment,
			ResourceLongTermMemory:  ScopeDepartment,
		}},
		{RoleLead, 3, tierScopes{
			ResourceShortTermMemory: ScopeProject,
			ResourceMidTermMemory:   ScopeProject,
			ResourceLongTermMemory:  ScopeProject,
		}},
		{RoleMember, 4, tierScopes{
			ResourceShortTermMemory: ScopeProject,
			ResourceMidTermMemory:   ScopeProject,
			ResourceLongTermMemory:  ScopeOwn,
		}},
		{RoleSessionUser, 5, tierScopes{
			ResourceShortTermMemory: ScopeOwn,
		}},
	}

	roles := make([]BuiltInRole, 0, len(defs))
	for i, d := range defs {
		role := Role{
			ID:             BuiltInID("role:" + d.name),
			Name:           d.name,
			HierarchyLevel: d.level,
			IsActive:       true,
		}
		if i+1 < len(defs) {
			parent := BuiltInID("role:" + defs[i+1].name)
			role.ParentRoleID = &parent
		}

		var perms []Permission
		for _, tier := range MemoryTiers() {
			scope, ok := d.scopes[tier]
			if !ok {
				continue
			}
			for _, action := range memoryActions {
				perms = append(perms, PermissionFor(tier, action, scope))
			}
		}
		roles = append(roles, BuiltInRole{Role: role, Permissions: perms})
	}
	return roles
}

// PermissionFor returns the permission record for a triple with a stable ID
func PermissionFor(resourceType ResourceType, action Action, scope Scope) Permission {
	return Permission{
		ID:           BuiltInID("permission:" + PermissionCode(resourceType, action) + ":" + scope.String()),
		ResourceType: resourceType,
		Action:       action,
		Scope:        scope,
		IsActive:     true,
	}
}
