package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

func (s *Store) exec(ctx context.Context, what string, query string, args ...interface{}) (sql.Result, error) {
	res, err := s.conns.Primary().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", what, err)
	}
	return res, nil
}

// execOne runs an update that must touch exactly one row
func (s *Store) execOne(ctx context.Context, what, kind string, id uuid.UUID, query string, args ...interface{}) error {
	res, err := s.exec(ctx, what, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, authz.ErrNotFound)
	}
	return nil
}

// CreateUser implements storage.Admin
func (s *Store) CreateUser(ctx context.Context, user *authz.User) (authz.Change, error) {
	if err := storage.ValidateUser(user); err != nil {
		return authz.Change{}, err
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, username, department_id, clearance, is_active, account_locked_until)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			department_id = excluded.department_id,
			clearance = excluded.clearance,
			is_active = excluded.is_active,
			account_locked_until = excluded.account_locked_until
	`
	if _, err := s.exec(ctx, "create user", query,
		user.ID, user.Username, user.DepartmentID, user.Clearance, user.IsActive, timeArg(user.AccountLockedUntil),
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeUser, UserID: user.ID}, nil
}

// DeactivateUser implements storage.Admin
func (s *Store) DeactivateUser(ctx context.Context, userID uuid.UUID) (authz.Change, error) {
	err := s.execOne(ctx, "deactivate user", "user", userID,
		`UPDATE users SET is_active = FALSE WHERE id = $1`, userID)
	if err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeUser, UserID: userID}, nil
}

// LockAccount implements storage.Admin
func (s *Store) LockAccount(ctx context.Context, userID uuid.UUID, until time.Time) (authz.Change, error) {
	err := s.execOne(ctx, "lock account", "user", userID,
		`UPDATE users SET account_locked_until = $1 WHERE id = $2`, until.UTC(), userID)
	if err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeUser, UserID: userID}, nil
}

// CreateRole implements storage.Admin. An existing role with the same ID is updated.
func (s *Store) CreateRole(ctx context.Context, role *authz.Role) (authz.Change, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if err := storage.ValidateRole(role); err != nil {
		return authz.Change{}, err
	}
	if role.ParentRoleID != nil {
		if _, err := s.GetRole(ctx, *role.ParentRoleID); err != nil {
			return authz.Change{}, fmt.Errorf("parent of role %q: %w", role.Name, err)
		}
	}

	query := `
		INSERT INTO roles (id, name, hierarchy_level, parent_role_id, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			hierarchy_level = excluded.hierarchy_level,
			parent_role_id = excluded.parent_role_id,
			is_active = excluded.is_active
	`
	if _, err := s.exec(ctx, "create role", query,
		role.ID, role.Name, role.HierarchyLevel, nullUUID(role.ParentRoleID), role.IsActive,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeRole}, nil
}

// CreatePermission implements storage.Admin
func (s *Store) CreatePermission(ctx context.Context, perm *authz.Permission) (authz.Change, error) {
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	if err := storage.ValidatePermission(perm); err != nil {
		return authz.Change{}, err
	}

	query := `
		INSERT INTO permissions (id, resource_type, action, scope, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET is_active = excluded.is_active
	`
	if _, err := s.exec(ctx, "create permission", query,
		perm.ID, string(perm.ResourceType), string(perm.Action), perm.Scope, perm.IsActive,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeRolePermission}, nil
}

// GrantPermission implements storage.Admin
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID, conds []authz.Condition) (authz.Change, error) {
	if err := authz.ValidateConditions(permissionID, conds); err != nil {
		return authz.Change{}, err
	}
	encoded, err := encodeConditions(conds)
	if err != nil {
		return authz.Change{}, err
	}

	query := `
		INSERT INTO role_permissions (role_id, permission_id, condition_key, conditions, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (role_id, permission_id, condition_key) DO UPDATE SET is_active = TRUE
	`
	if _, err := s.exec(ctx, "grant permission", query,
		roleID, permissionID, authz.ConditionKey(conds), encoded,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeRolePermission}, nil
}

// AssignRole implements storage.Admin
func (s *Store) AssignRole(ctx context.Context, asg *authz.UserRoleAssignment) (authz.Change, error) {
	if asg.ID == uuid.Nil {
		asg.ID = uuid.New()
	}
	if asg.AssignedAt.IsZero() {
		asg.AssignedAt = time.Now().UTC()
	}
	if err := storage.ValidateAssignment(asg); err != nil {
		return authz.Change{}, err
	}

	query := `
		INSERT INTO user_role_assignments (id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.exec(ctx, "assign role", query,
		asg.ID, asg.UserID, asg.RoleID, nullUUID(asg.AssignedBy), asg.AssignedAt.UTC(), timeArg(asg.ExpiresAt), asg.IsActive,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeAssignment, UserID: asg.UserID}, nil
}

// RevokeAssignment implements storage.Admin
func (s *Store) RevokeAssignment(ctx context.Context, userID, assignmentID uuid.UUID) (authz.Change, error) {
	err := s.execOne(ctx, "revoke assignment", "assignment", assignmentID,
		`UPDATE user_role_assignments SET is_active = FALSE WHERE id = $1 AND user_id = $2`,
		assignmentID, userID)
	if err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeAssignment, UserID: userID}, nil
}

// GrantACE implements storage.Admin. Malformed entries are rejected.
func (s *Store) GrantACE(ctx context.Context, ace *authz.AccessControlEntry) (authz.Change, error) {
	if ace.ID == uuid.Nil {
		ace.ID = uuid.New()
	}
	if err := ace.Validate(); err != nil {
		return authz.Change{}, err
	}
	encoded, err := encodeConditions(ace.Conditions)
	if err != nil {
		return authz.Change{}, err
	}

	query := `
		INSERT INTO access_control_entries (id, resource_id, resource_type, user_id, role_id, department_id, project_id,
			permission_type, effect, conditions, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := s.exec(ctx, "grant access control entry", query,
		ace.ID, ace.Resource.ID, string(ace.Resource.Type),
		ace.UserID, ace.RoleID, ace.DepartmentID, ace.ProjectID,
		ace.PermissionType, string(ace.Effect), encoded, timeArg(ace.ExpiresAt), ace.IsActive,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeACE}, nil
}

// RevokeACE implements storage.Admin
func (s *Store) RevokeACE(ctx context.Context, aceID uuid.UUID) (authz.Change, error) {
	err := s.execOne(ctx, "revoke access control entry", "ace", aceID,
		`UPDATE access_control_entries SET is_active = FALSE WHERE id = $1`, aceID)
	if err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeACE}, nil
}

// PutResource implements storage.Admin
func (s *Store) PutResource(ctx context.Context, meta *authz.ResourceMeta) (authz.Change, error) {
	if err := storage.ValidateResource(meta); err != nil {
		return authz.Change{}, err
	}
	tags := "{}"
	if len(meta.Tags) > 0 {
		data, err := json.Marshal(meta.Tags)
		if err != nil {
			return authz.Change{}, fmt.Errorf("failed to marshal tags: %w", err)
		}
		tags = string(data)
	}

	query := `
		INSERT INTO resources (id, resource_type, owner_id, project_id, department_id, session_id, session_owner_id, classification, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id, resource_type) DO UPDATE SET
			owner_id = excluded.owner_id,
			project_id = excluded.project_id,
			department_id = excluded.department_id,
			session_id = excluded.session_id,
			session_owner_id = excluded.session_owner_id,
			classification = excluded.classification,
			tags = excluded.tags
	`
	if _, err := s.exec(ctx, "put resource", query,
		meta.Ref.ID, string(meta.Ref.Type), meta.OwnerID, meta.ProjectID, meta.DepartmentID,
		meta.SessionID, meta.SessionOwnerID, meta.Classification, tags,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeResource}, nil
}

// PutProject implements storage.Admin
func (s *Store) PutProject(ctx context.Context, project *storage.Project) (authz.Change, error) {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}

	query := `
		INSERT INTO projects (id, name, department_id, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			department_id = excluded.department_id,
			is_active = excluded.is_active
	`
	if _, err := s.exec(ctx, "put project", query,
		project.ID, project.Name, project.DepartmentID, project.IsActive,
	); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeProject}, nil
}

// SetProjectMember implements storage.Admin
func (s *Store) SetProjectMember(ctx context.Context, projectID, userID uuid.UUID, active bool) (authz.Change, error) {
	query := `
		INSERT INTO project_members (project_id, user_id, is_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET is_active = excluded.is_active
	`
	if _, err := s.exec(ctx, "set project member", query, projectID, userID, active); err != nil {
		return authz.Change{}, err
	}
	return authz.Change{Kind: authz.ChangeProject, UserID: userID}, nil
}
