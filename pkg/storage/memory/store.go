package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

type rolePermission struct {
	permissionID uuid.UUID
	conditions   []authz.Condition
	active       bool
}

// Snapshot is a complete authorization graph. The memory store serves one
// snapshot at a time and replaces it atomically.
type Snapshot struct {
	users       map[uuid.UUID]authz.User
	roles       map[uuid.UUID]authz.Role
	children    map[uuid.UUID][]uuid.UUID
	permissions map[uuid.UUID]authz.Permission
	rolePerms   map[uuid.UUID][]rolePermission
	assignments map[uuid.UUID][]authz.UserRoleAssignment
	aces        map[authz.ResourceRef][]authz.AccessControlEntry
	aceRefs     map[uuid.UUID]authz.ResourceRef
	resources   map[authz.ResourceRef]authz.ResourceMeta
	projects    map[uuid.UUID]storage.Project
	members     map[uuid.UUID]map[uuid.UUID]bool
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		users:       make(map[uuid.UUID]authz.User),
		roles:       make(map[uuid.UUID]authz.Role),
		children:    make(map[uuid.UUID][]uuid.UUID),
		permissions: make(map[uuid.UUID]authz.Permission),
		rolePerms:   make(map[uuid.UUID][]rolePermission),
		assignments: make(map[uuid.UUID][]authz.UserRoleAssignment),
		aces:        make(map[authz.ResourceRef][]authz.AccessControlEntry),
		aceRefs:     make(map[uuid.UUID]authz.ResourceRef),
		resources:   make(map[authz.ResourceRef]authz.ResourceMeta),
		projects:    make(map[uuid.UUID]storage.Project),
		members:     make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// SnapshotStats counts the records in a snapshot
type SnapshotStats struct {
	Users       int `json:"users"`
	Roles       int `json:"roles"`
	Permissions int `json:"permissions"`
	Assignments int `json:"assignments"`
	Resources   int `json:"resources"`
	ACEs        int `json:"aces"`
	Projects    int `json:"projects"`
}

// Stats counts the records in snap
func (snap *Snapshot) Stats() SnapshotStats {
	stats := SnapshotStats{
		Users:       len(snap.users),
		Roles:       len(snap.roles),
		Permissions: len(snap.permissions),
		Resources:   len(snap.resources),
		ACEs:        len(snap.aceRefs),
		Projects:    len(snap.projects),
	}
	for _, list := range snap.assignments {
		stats.Assignments += len(list)
	}
	return stats
}

// Store is an in-memory storage.Store
type Store struct {
	mu   sync.RWMutex
	snap *Snapshot
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{snap: NewSnapshot()}
}

// Replace swaps in snap wholesale
func (s *Store) Replace(snap *Snapshot) authz.Change {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return authz.Change{Kind: authz.ChangeSnapshot}
}

// SeedBuiltInRoles adds the built-in roles and their permissions
func (s *Store) SeedBuiltInRoles() authz.Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.seedBuiltInRoles()
	return authz.Change{Kind: authz.ChangeRole}
}

func (snap *Snapshot) seedBuiltInRoles() {
	for _, b := range authz.BuiltInRoles() {
		snap.putRole(b.Role)
		for _, p := range b.Permissions {
			snap.permissions[p.ID] = p
			snap.grant(b.Role.ID, p.ID, nil)
		}
	}
}

func (snap *Snapshot) putRole(role authz.Role) {
	if old, ok := snap.roles[role.ID]; ok && old.ParentRoleID != nil {
		snap.children[*old.ParentRoleID] = removeID(snap.children[*old.ParentRoleID], role.ID)
	}
	snap.roles[role.ID] = role
	if role.ParentRoleID != nil {
		snap.children[*role.ParentRoleID] = append(snap.children[*role.ParentRoleID], role.ID)
	}
}

func (snap *Snapshot) grant(roleID, permissionID uuid.UUID, conds []authz.Condition) {
	key := authz.ConditionKey(conds)
	list := snap.rolePerms[roleID]
	for i, rp := range list {
		if rp.permissionID == permissionID && authz.ConditionKey(rp.conditions) == key {
			list[i].active = true
			return
		}
	}
	snap.rolePerms[roleID] = append(list, rolePermission{
		permissionID: permissionID,
		conditions:   conds,
		active:       true,
	})
}

func (snap *Snapshot) putACE(ace authz.AccessControlEntry) {
	if ref, ok := snap.aceRefs[ace.ID]; ok {
		snap.aces[ref] = removeACE(snap.aces[ref], ace.ID)
	}
	snap.aces[ace.Resource] = append(snap.aces[ace.Resource], ace)
	snap.aceRefs[ace.ID] = ace.Resource
}

func (snap *Snapshot) setMember(projectID, userID uuid.UUID, active bool) {
	m, ok := snap.members[projectID]
	if !ok {
		m = make(map[uuid.UUID]bool)
		snap.members[projectID] = m
	}
	m[userID] = active
}

// GetUser implements authz.DataSource
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (*authz.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.snap.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, authz.ErrNotFound)
	}
	return &u, nil
}

// GetActiveRoleAssignments implements authz.DataSource
func (s *Store) GetActiveRoleAssignments(_ context.Context, userID uuid.UUID, now time.Time) ([]authz.UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.UserRoleAssignment
	for _, a := range s.snap.assignments[userID] {
		if a.Effective(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetRole implements authz.DataSource
func (s *Store) GetRole(_ context.Context, roleID uuid.UUID) (*authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.snap.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", roleID, authz.ErrNotFound)
	}
	return &r, nil
}

// GetChildRoles implements authz.DataSource
func (s *Store) GetChildRoles(_ context.Context, roleID uuid.UUID) ([]authz.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.snap.children[roleID]
	out := make([]authz.Role, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.snap.roles[id]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HierarchyLevel != out[j].HierarchyLevel {
			return out[i].HierarchyLevel < out[j].HierarchyLevel
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetActiveRolePermissions implements authz.DataSource
func (s *Store) GetActiveRolePermissions(_ context.Context, roleID uuid.UUID) ([]authz.RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.RolePermission
	for _, rp := range s.snap.rolePerms[roleID] {
		if !rp.active {
			continue
		}
		p, ok := s.snap.permissions[rp.permissionID]
		if !ok || !p.IsActive {
			continue
		}
		out = append(out, authz.RolePermission{
			RoleID:     roleID,
			Permission: p,
			Conditions: append([]authz.Condition(nil), rp.conditions...),
		})
	}
	return out, nil
}

// GetActiveACEs implements authz.DataSource. Expiry is left to the caller.
func (s *Store) GetActiveACEs(_ context.Context, ref authz.ResourceRef) ([]authz.AccessControlEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.AccessControlEntry
	for _, e := range s.snap.aces[ref] {
		if e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetResourceMeta implements authz.DataSource
func (s *Store) GetResourceMeta(_ context.Context, ref authz.ResourceRef) (*authz.ResourceMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.snap.resources[ref]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", ref, authz.ErrNotFound)
	}
	return copyMeta(m), nil
}

// GetActiveProjectIDs implements authz.DataSource. Only active memberships
// of active projects count.
func (s *Store) GetActiveProjectIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for projectID, members := range s.snap.members {
		if !members[userID] {
			continue
		}
		if p, ok := s.snap.projects[projectID]; ok && p.IsActive {
			out = append(out, projectID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

// ListResources implements storage.Reader
func (s *Store) ListResources(_ context.Context, resourceType authz.ResourceType) ([]authz.ResourceMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []authz.ResourceMeta
	for ref, m := range s.snap.resources {
		if ref.Type == resourceType {
			out = append(out, *copyMeta(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ID.String() < out[j].Ref.ID.String() })
	return out, nil
}

// HealthCheck implements storage.Store
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close implements storage.Store
func (s *Store) Close() error {
	return nil
}

func copyMeta(m authz.ResourceMeta) *authz.ResourceMeta {
	if m.Tags != nil {
		tags := make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			tags[k] = v
		}
		m.Tags = tags
	}
	return &m
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func removeACE(aces []authz.AccessControlEntry, id uuid.UUID) []authz.AccessControlEntry {
	out := aces[:0]
	for _, e := range aces {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
