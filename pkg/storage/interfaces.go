package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
)

// Reader is the read side every backend exposes to the engine
type Reader interface {
	authz.DataSource

	// ListResources returns metadata of every resource of resourceType
	ListResources(ctx context.Context, resourceType authz.ResourceType) ([]authz.ResourceMeta, error)
}

// Admin is the administrative write side. Every write reports the kind of
// graph change it made so callers can invalidate derived caches.
type Admin interface {
	CreateUser(ctx context.Context, user *authz.User) (authz.Change, error)
	DeactivateUser(ctx context.Context, userID uuid.UUID) (authz.Change, error)
	LockAccount(ctx context.Context, userID uuid.UUID, until time.Time) (authz.Change, error)

	CreateRole(ctx context.Context, role *authz.Role) (authz.Change, error)
	CreatePermission(ctx context.Context, perm *authz.Permission) (authz.Change, error)
	GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID, conds []authz.Condition) (authz.Change, error)

	AssignRole(ctx context.Context, asg *authz.UserRoleAssignment) (authz.Change, error)
	RevokeAssignment(ctx context.Context, userID, assignmentID uuid.UUID) (authz.Change, error)

	GrantACE(ctx context.Context, ace *authz.AccessControlEntry) (authz.Change, error)
	RevokeACE(ctx context.Context, aceID uuid.UUID) (authz.Change, error)

	PutResource(ctx context.Context, meta *authz.ResourceMeta) (authz.Change, error)
	PutProject(ctx context.Context, project *Project) (authz.Change, error)
	SetProjectMember(ctx context.Context, projectID, userID uuid.UUID, active bool) (authz.Change, error)
}

// Store is a complete backend
type Store interface {
	Reader
	Admin

	// HealthCheck reports whether the backend can serve reads
	HealthCheck(ctx context.Context) error
	Close() error
}

// Project groups users for project-scoped grants
type Project struct {
	ID           uuid.UUID     `json:"id"`
	Name         string        `json:"name"`
	DepartmentID uuid.NullUUID `json:"department_id"`
	IsActive     bool          `json:"is_active"`
}

// Config for storage backend
type Config struct {
	Type string // "memory", "postgres", "sqlite"

	// Memory backend
	PolicyFile string

	// PostgreSQL config
	PostgresURL      string
	ReplicaURLs      []string
	ReplicaReads     bool // serve reads from replicas, accepting replication lag
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// SQLite config
	SQLitePath string

	AutoMigrate  bool
	SeedBuiltIns bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		SQLitePath:       "memauthz.db",
		AutoMigrate:      true,
		SeedBuiltIns:     true,
	}
}
