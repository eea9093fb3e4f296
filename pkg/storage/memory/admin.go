package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

// CreateUser implements storage.Admin. An existing user with the same ID is replaced.
func (s *Store) CreateUser(_ context.Context, user *authz.User) (authz.Change, error) {
	if err := storage.ValidateUser(user); err != nil {
		return authz.Change{}, err
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.users[user.ID] = *user
	return authz.Change{Kind: authz.ChangeUser, UserID: user.ID}, nil
}

// DeactivateUser implements storage.Admin
func (s *Store) DeactivateUser(_ context.Context, userID uuid.UUID) (authz.Change, error) {
	return s.updateUser(userID, func(u *authz.User) { u.IsActive = false })
}

// LockAccount implements storage.Admin
func (s *Store) LockAccount(_ context.Context, userID uuid.UUID, until time.Time) (authz.Change, error) {
	return s.updateUser(userID, func(u *authz.User) { u.AccountLockedUntil = &until })
}

func (s *Store) updateUser(userID uuid.UUID, fn func(*authz.User)) (authz.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.snap.users[userID]
	if !ok {
		return authz.Change{}, fmt.Errorf("user %s: %w", userID, authz.ErrNotFound)
	}
	fn(&u)
	s.snap.users[userID] = u
	return authz.Change{Kind: authz.ChangeUser, UserID: userID}, nil
}

// CreateRole implements storage.Admin
func (s *Store) CreateRole(_ context.Context, role *authz.Role) (authz.Change, error) {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if err := storage.ValidateRole(role); err != nil {
		return authz.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ParentRoleID != nil {
		if _, ok := s.snap.roles[*role.ParentRoleID]; !ok {
			return authz.Change{}, fmt.Errorf("parent role %s: %w", *role.ParentRoleID, authz.ErrNotFound)
		}
	}
	s.snap.putRole(*role)
	return authz.Change{Kind: authz.ChangeRole}, nil
}

// CreatePermission implements storage.Admin
func (s *Store) CreatePermission(_ context.Context, perm *authz.Permission) (authz.Change, error) {
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	if err := storage.ValidatePermission(perm); err != nil {
		return authz.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.permissions[perm.ID] = *perm
	return authz.Change{Kind: authz.ChangeRolePermission}, nil
}

// GrantPermission implements storage.Admin
func (s *Store) GrantPermission(_ context.Context, roleID, permissionID uuid.UUID, conds []authz.Condition) (authz.Change, error) {
	if err := authz.ValidateConditions(permissionID, conds); err != nil {
		return authz.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.roles[roleID]; !ok {
		return authz.Change{}, fmt.Errorf("role %s: %w", roleID, authz.ErrNotFound)
	}
	if _, ok := s.snap.permissions[permissionID]; !ok {
		return authz.Change{}, fmt.Errorf("permission %s: %w", permissionID, authz.ErrNotFound)
	}
	s.snap.grant(roleID, permissionID, conds)
	return authz.Change{Kind: authz.ChangeRolePermission}, nil
}

// AssignRole implements storage.Admin
func (s *Store) AssignRole(_ context.Context, asg *authz.UserRoleAssignment) (authz.Change, error) {
	if asg.ID == uuid.Nil {
		asg.ID = uuid.New()
	}
	if asg.AssignedAt.IsZero() {
		asg.AssignedAt = time.Now().UTC()
	}
	if err := storage.ValidateAssignment(asg); err != nil {
		return authz.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.users[asg.UserID]; !ok {
		return authz.Change{}, fmt.Errorf("user %s: %w", asg.UserID, authz.ErrNotFound)
	}
	if _, ok := s.snap.roles[asg.RoleID]; !ok {
		return authz.Change{}, fmt.Errorf("role %s: %w", asg.RoleID, authz.ErrNotFound)
	}
	s.snap.assignments[asg.UserID] = append(s.snap.assignments[asg.UserID], *asg)
	return authz.Change{Kind: authz.ChangeAssignment, UserID: asg.UserID}, nil
}

// RevokeAssignment implements storage.Admin
func (s *Store) RevokeAssignment(_ context.Context, userID, assignmentID uuid.UUID) (authz.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.snap.assignments[userID]
	for i := range list {
		if list[i].ID == assignmentID {
			list[i].IsActive = false
			return authz.Change{Kind: authz.ChangeAssignment, UserID: userID}, nil
		}
	}
	return authz.Change{}, fmt.Errorf("assignment %s: %w", assignmentID, authz.ErrNotFound)
}

// GrantACE implements storage.Admin. Malformed entries are rejected.
func (s *Store) GrantACE(_ context.Context, ace *authz.AccessControlEntry) (authz.Change, error) {
	if ace.ID == uuid.Nil {
		ace.ID = uuid.New()
	}
	if err := ace.Validate(); err != nil {
		return authz.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.putACE(*ace)
	return authz.Change{Kind: authz.ChangeACE}, nil
}

// RevokeACE implements storage.Admin
func (s *Store) RevokeACE(_ context.Context, aceID uuid.UUID) (authz.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.snap.aceRefs[aceID]
	if !ok {
		return authz.Change{}, fmt.Errorf("ace %s: %w", aceID, authz.ErrNotFound)
	}
	list := s.snap.aces[ref]
	for i := range list {
		if list[i].ID == aceID {
			list[i].IsActive = false
		}
	}
	return authz.Change{Kind: authz.ChangeACE}, nil
}

// PutResource implements storage.Admin
func (s *Store) PutResource(_ context.Context, meta *authz.ResourceMeta) (authz.Change, error) {
	if err := storage.ValidateResource(meta); err != nil {
		return authz.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.resources[meta.Ref] = *copyMeta(*meta)
	return authz.Change{Kind: authz.ChangeResource}, nil
}

// PutProject implements storage.Admin
func (s *Store) PutProject(_ context.Context, project *storage.Project) (authz.Change, error) {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.projects[project.ID] = *project
	return authz.Change{Kind: authz.ChangeProject}, nil
}

// SetProjectMember implements storage.Admin
func (s *Store) SetProjectMember(_ context.Context, projectID, userID uuid.UUID, active bool) (authz.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.projects[projectID]; !ok {
		return authz.Change{}, fmt.Errorf("project %s: %w", projectID, authz.ErrNotFound)
	}
	s.snap.setMember(projectID, userID, active)
	return authz.Change{Kind: authz.ChangeProject, UserID: userID}, nil
}
