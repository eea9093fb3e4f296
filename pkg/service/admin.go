package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/audit"
	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

// mutation describes one administrative write for auditing
type mutation struct {
	event        audit.EventType
	resourceType string
	resourceID   string
	userID       uuid.UUID
	metadata     map[string]interface{}
}

// apply runs write, invalidates what it changed and records the outcome.
// A write that succeeded but could not be invalidated is reported as failed
// since decisions may still be served from stale cache entries.
func (s *Service) apply(ctx context.Context, m mutation, write func() (authz.Change, error)) error {
	change, err := write()
	if err == nil {
		err = s.engine.Invalidate(ctx, change)
	}

	event := audit.NewEvent(ctx, m.event, audit.StatusFor(true, err))
	event.ResourceType = m.resourceType
	event.ResourceID = m.resourceID
	if m.userID != uuid.Nil {
		event.UserID = m.userID.String()
	}
	for k, v := range m.metadata {
		event.Metadata[k] = v
	}
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	_ = s.audit.Log(ctx, event)

	if err != nil {
		s.logger.WithError(err).WithField("event_type", string(m.event)).Warn("Administrative write failed")
	}
	return err
}

// CreateUser adds or replaces a user
func (s *Service) CreateUser(ctx context.Context, user *authz.User) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminUserCreate,
		resourceType: "user",
		resourceID:   user.ID.String(),
		userID:       user.ID,
		metadata:     map[string]interface{}{"clearance": user.Clearance.String()},
	}, func() (authz.Change, error) {
		return s.store.CreateUser(ctx, user)
	})
}

// DeactivateUser marks a user inactive so every check denies
func (s *Service) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminUserDeactivate,
		resourceType: "user",
		resourceID:   userID.String(),
		userID:       userID,
	}, func() (authz.Change, error) {
		return s.store.DeactivateUser(ctx, userID)
	})
}

// LockAccount locks a user until the given time
func (s *Service) LockAccount(ctx context.Context, userID uuid.UUID, until time.Time) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminAccountLock,
		resourceType: "user",
		resourceID:   userID.String(),
		userID:       userID,
		metadata:     map[string]interface{}{"locked_until": until.UTC().Format(time.RFC3339)},
	}, func() (authz.Change, error) {
		return s.store.LockAccount(ctx, userID, until)
	})
}

// CreateRole adds or replaces a role
func (s *Service) CreateRole(ctx context.Context, role *authz.Role) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminRoleCreate,
		resourceType: "role",
		resourceID:   role.ID.String(),
		metadata:     map[string]interface{}{"name": role.Name, "level": role.HierarchyLevel},
	}, func() (authz.Change, error) {
		return s.store.CreateRole(ctx, role)
	})
}

// CreatePermission adds a permission
func (s *Service) CreatePermission(ctx context.Context, perm *authz.Permission) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminPermissionCreate,
		resourceType: "permission",
		resourceID:   perm.ID.String(),
		metadata:     map[string]interface{}{"code": perm.Code(), "scope": perm.Scope.String()},
	}, func() (authz.Change, error) {
		return s.store.CreatePermission(ctx, perm)
	})
}

// GrantPermission attaches a permission to a role
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID, conds []authz.Condition) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminRoleGrant,
		resourceType: "role",
		resourceID:   roleID.String(),
		metadata: map[string]interface{}{
			"permission_id": permissionID.String(),
			"conditions":    len(conds),
		},
	}, func() (authz.Change, error) {
		return s.store.GrantPermission(ctx, roleID, permissionID, conds)
	})
}

// AssignRole assigns a role to a user
func (s *Service) AssignRole(ctx context.Context, asg *authz.UserRoleAssignment) error {
	meta := map[string]interface{}{"role_id": asg.RoleID.String()}
	if asg.ExpiresAt != nil {
		meta["expires_at"] = asg.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminRoleAssign,
		resourceType: "assignment",
		resourceID:   asg.ID.String(),
		userID:       asg.UserID,
		metadata:     meta,
	}, func() (authz.Change, error) {
		return s.store.AssignRole(ctx, asg)
	})
}

// RevokeAssignment deactivates a user's role assignment
func (s *Service) RevokeAssignment(ctx context.Context, userID, assignmentID uuid.UUID) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminRoleRevoke,
		resourceType: "assignment",
		resourceID:   assignmentID.String(),
		userID:       userID,
	}, func() (authz.Change, error) {
		return s.store.RevokeAssignment(ctx, userID, assignmentID)
	})
}

// GrantACE adds an access control entry
func (s *Service) GrantACE(ctx context.Context, ace *authz.AccessControlEntry) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminACEGrant,
		resourceType: string(ace.Resource.Type),
		resourceID:   ace.Resource.ID.String(),
		metadata: map[string]interface{}{
			"ace_id": ace.ID.String(),
			"effect": string(ace.Effect),
		},
	}, func() (authz.Change, error) {
		return s.store.GrantACE(ctx, ace)
	})
}

// RevokeACE deactivates an access control entry
func (s *Service) RevokeACE(ctx context.Context, aceID uuid.UUID) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminACERevoke,
		resourceType: "ace",
		resourceID:   aceID.String(),
	}, func() (authz.Change, error) {
		return s.store.RevokeACE(ctx, aceID)
	})
}

// PutResource records or replaces a resource's metadata
func (s *Service) PutResource(ctx context.Context, meta *authz.ResourceMeta) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminResourcePut,
		resourceType: string(meta.Ref.Type),
		resourceID:   meta.Ref.ID.String(),
		metadata:     map[string]interface{}{"classification": meta.Classification.String()},
	}, func() (authz.Change, error) {
		return s.store.PutResource(ctx, meta)
	})
}

// PutProject records or replaces a project
func (s *Service) PutProject(ctx context.Context, project *storage.Project) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminProjectPut,
		resourceType: string(authz.ResourceProject),
		resourceID:   project.ID.String(),
		metadata:     map[string]interface{}{"name": project.Name, "active": project.IsActive},
	}, func() (authz.Change, error) {
		return s.store.PutProject(ctx, project)
	})
}

// SetProjectMember adds a user to or removes a user from a project
func (s *Service) SetProjectMember(ctx context.Context, projectID, userID uuid.UUID, active bool) error {
	return s.apply(ctx, mutation{
		event:        audit.EventTypeAdminProjectMember,
		resourceType: string(authz.ResourceProject),
		resourceID:   projectID.String(),
		userID:       userID,
		metadata:     map[string]interface{}{"active": active},
	}, func() (authz.Change, error) {
		return s.store.SetProjectMember(ctx, projectID, userID, active)
	})
}
