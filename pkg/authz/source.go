package authz

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DataSource is the read-only view of the role, permission and ACL graph
// the engine evaluates against. Implementations return ErrNotFound for
// missing users, roles and resources, and must be safe for concurrent use.
type DataSource interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*User, error)
	GetActiveRoleAssignments(ctx context.Context, userID uuid.UUID, now time.Time) ([]UserRoleAssignment, error)
	GetRole(ctx context.Context, roleID uuid.UUID) (*Role, error)
	GetChildRoles(ctx context.Context, roleID uuid.UUID) ([]Role, error)
	GetActiveRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermission, error)
	GetActiveACEs(ctx context.Context, ref ResourceRef) ([]AccessControlEntry, error)
	GetResourceMeta(ctx context.Context, ref ResourceRef) (*ResourceMeta, error)
	GetActiveProjectIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// ChangeKind describes a mutation of the authorization graph
type ChangeKind string

const (
	ChangeRole           ChangeKind = "role"
	ChangeRolePermission ChangeKind = "role_permission"
	ChangeAssignment     ChangeKind = "assignment"
	ChangeUser           ChangeKind = "user"
	ChangeACE            ChangeKind = "ace"
	ChangeResource       ChangeKind = "resource"
	ChangeProject        ChangeKind = "project"
	ChangeSnapshot       ChangeKind = "snapshot"
)

// Change is published by stores after a write
type Change struct {
	Kind   ChangeKind
	UserID uuid.UUID // set for assignment and user changes
}

// Invalidator is implemented by anything that drops cached derived state
type Invalidator interface {
	Invalidate(ctx context.Context, change Change) error
}
