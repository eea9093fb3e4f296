package authz_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/storage"
	"github.com/platinummonkey/memauthz/pkg/storage/memory"
)

// a Wednesday
var testNow = time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)

func roleID(name string) uuid.UUID {
	return authz.BuiltInID("role:" + name)
}

// world is a memory store seeded with the built-in roles, one department
// and one active project
type world struct {
	t          *testing.T
	store      *memory.Store
	department uuid.NullUUID
	project    uuid.UUID
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		t:          t,
		store:      memory.NewStore(),
		department: uuid.NullUUID{UUID: uuid.New(), Valid: true},
	}
	w.store.SeedBuiltInRoles()

	p := storage.Project{Name: "apollo", DepartmentID: w.department, IsActive: true}
	_, err := w.store.PutProject(context.Background(), &p)
	require.NoError(t, err)
	w.project = p.ID
	return w
}

// user creates an active user in the world's department and project holding roles
func (w *world) user(clearance authz.Classification, roles ...string) uuid.UUID {
	w.t.Helper()
	ctx := context.Background()

	u := authz.User{Username: "u-" + uuid.NewString()[:8], DepartmentID: w.department, Clearance: clearance, IsActive: true}
	_, err := w.store.CreateUser(ctx, &u)
	require.NoError(w.t, err)
	_, err = w.store.SetProjectMember(ctx, w.project, u.ID, true)
	require.NoError(w.t, err)

	for _, name := range roles {
		w.assign(u.ID, roleID(name), nil)
	}
	return u.ID
}

func (w *world) assign(userID, role uuid.UUID, expiresAt *time.Time) uuid.UUID {
	w.t.Helper()
	asg := authz.UserRoleAssignment{
		UserID:     userID,
		RoleID:     role,
		AssignedAt: testNow.Add(-24 * time.Hour),
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	_, err := w.store.AssignRole(context.Background(), &asg)
	require.NoError(w.t, err)
	return asg.ID
}

// resource stores a memory record in the world's project and department
func (w *world) resource(tier authz.ResourceType, classification authz.Classification, owner uuid.UUID) authz.ResourceRef {
	w.t.Helper()
	meta := authz.ResourceMeta{
		Ref:            authz.ResourceRef{ID: uuid.New(), Type: tier},
		OwnerID:        owner,
		ProjectID:      uuid.NullUUID{UUID: w.project, Valid: true},
		DepartmentID:   w.department,
		Classification: classification,
	}
	w.put(&meta)
	return meta.Ref
}

func (w *world) put(meta *authz.ResourceMeta) {
	w.t.Helper()
	_, err := w.store.PutResource(context.Background(), meta)
	require.NoError(w.t, err)
}

func (w *world) ace(ace authz.AccessControlEntry) uuid.UUID {
	w.t.Helper()
	ace.IsActive = true
	_, err := w.store.GrantACE(context.Background(), &ace)
	require.NoError(w.t, err)
	return ace.ID
}

func (w *world) role(name string, level int, parent *uuid.UUID) uuid.UUID {
	w.t.Helper()
	r := authz.Role{Name: name, HierarchyLevel: level, ParentRoleID: parent, IsActive: true}
	_, err := w.store.CreateRole(context.Background(), &r)
	require.NoError(w.t, err)
	return r.ID
}

func (w *world) grant(role uuid.UUID, perm authz.Permission, conds ...authz.Condition) {
	w.t.Helper()
	ctx := context.Background()
	_, err := w.store.CreatePermission(ctx, &perm)
	require.NoError(w.t, err)
	_, err = w.store.GrantPermission(ctx, role, perm.ID, conds)
	require.NoError(w.t, err)
}

func userPrincipal(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}

// faultySource wraps a DataSource, failing or overriding chosen calls and
// counting every call
type faultySource struct {
	authz.DataSource

	mu     sync.Mutex
	fail   map[string]error
	calls  map[string]int
	pauses map[string]*pause
	aces   []authz.AccessControlEntry
}

// pause holds the next call to an operation until release is closed
type pause struct {
	entered chan struct{}
	release chan struct{}
}

func newFaultySource(src authz.DataSource) *faultySource {
	return &faultySource{DataSource: src, fail: map[string]error{}, calls: map[string]int{}, pauses: map[string]*pause{}}
}

func (f *faultySource) pauseOn(op string) *pause {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &pause{entered: make(chan struct{}), release: make(chan struct{})}
	f.pauses[op] = p
	return p
}

func (f *faultySource) failOn(op string, err error) *faultySource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
	return f
}

func (f *faultySource) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultySource) enter(op string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fail[op]
	p := f.pauses[op]
	delete(f.pauses, op)
	f.mu.Unlock()

	if p != nil {
		close(p.entered)
		<-p.release
	}
	return err
}

func (f *faultySource) GetUser(ctx context.Context, id uuid.UUID) (*authz.User, error) {
	if err := f.enter("GetUser"); err != nil {
		return nil, err
	}
	return f.DataSource.GetUser(ctx, id)
}

func (f *faultySource) GetActiveRoleAssignments(ctx context.Context, id uuid.UUID, now time.Time) ([]authz.UserRoleAssignment, error) {
	if err := f.enter("GetActiveRoleAssignments"); err != nil {
		return nil, err
	}
	return f.DataSource.GetActiveRoleAssignments(ctx, id, now)
}

func (f *faultySource) GetRole(ctx context.Context, id uuid.UUID) (*authz.Role, error) {
	if err := f.enter("GetRole"); err != nil {
		return nil, err
	}
	return f.DataSource.GetRole(ctx, id)
}

func (f *faultySource) GetChildRoles(ctx context.Context, id uuid.UUID) ([]authz.Role, error) {
	if err := f.enter("GetChildRoles"); err != nil {
		return nil, err
	}
	return f.DataSource.GetChildRoles(ctx, id)
}

func (f *faultySource) GetActiveRolePermissions(ctx context.Context, id uuid.UUID) ([]authz.RolePermission, error) {
	if err := f.enter("GetActiveRolePermissions"); err != nil {
		return nil, err
	}
	return f.DataSource.GetActiveRolePermissions(ctx, id)
}

func (f *faultySource) GetActiveACEs(ctx context.Context, ref authz.ResourceRef) ([]authz.AccessControlEntry, error) {
	if err := f.enter("GetActiveACEs"); err != nil {
		return nil, err
	}
	if f.aces != nil {
		return f.aces, nil
	}
	return f.DataSource.GetActiveACEs(ctx, ref)
}

func (f *faultySource) GetResourceMeta(ctx context.Context, ref authz.ResourceRef) (*authz.ResourceMeta, error) {
	if err := f.enter("GetResourceMeta"); err != nil {
		return nil, err
	}
	return f.DataSource.GetResourceMeta(ctx, ref)
}

func (f *faultySource) GetActiveProjectIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	if err := f.enter("GetActiveProjectIDs"); err != nil {
		return nil, err
	}
	return f.DataSource.GetActiveProjectIDs(ctx, id)
}

type decisionRecorder struct {
	mu        sync.Mutex
	decisions map[string]int
	dataErrs  map[string]int
	confErrs  map[string]int
}

func newDecisionRecorder() *decisionRecorder {
	return &decisionRecorder{decisions: map[string]int{}, dataErrs: map[string]int{}, confErrs: map[string]int{}}
}

func (r *decisionRecorder) RecordDecision(_ context.Context, _ bool, reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[reason]++
}

func (r *decisionRecorder) RecordDataSourceError(_ context.Context, operation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataErrs[operation]++
}

func (r *decisionRecorder) RecordConfigurationError(_ context.Context, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confErrs[kind]++
}
