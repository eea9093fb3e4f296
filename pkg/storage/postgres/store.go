package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/observability"
	"github.com/platinummonkey/memauthz/pkg/storage"
)

// Store is a database/sql storage.Store. Writes go to the primary. Reads
// go to the primary too unless replica reads are enabled, since a lagging
// replica can serve a grant that was already revoked.
type Store struct {
	conns        *ConnectionManager
	logger       *observability.Logger
	replicaReads bool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store over an open connection manager
func NewStore(conns *ConnectionManager, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{conns: conns, logger: logger.WithField("component", "sql_store")}
}

// Open connects according to cfg, applies migrations and seeds the
// built-in roles when configured to
func Open(ctx context.Context, cfg storage.Config, logger *observability.Logger) (*Store, error) {
	conn := ConnectionConfig{
		Driver:      DriverPostgres,
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: cfg.ReplicaURLs,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
	if cfg.Type == "sqlite" {
		conn = ConnectionConfig{Driver: DriverSQLite, PrimaryURL: cfg.SQLitePath, Timeout: cfg.PostgresTimeout}
	}

	conns, err := NewConnectionManager(conn, logger)
	if err != nil {
		return nil, err
	}
	s := NewStore(conns, logger)
	s.replicaReads = cfg.ReplicaReads

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, conns.Primary(), logger); err != nil {
			conns.Close()
			return nil, err
		}
	}
	if cfg.SeedBuiltIns {
		if err := InitializeBuiltInRoles(ctx, s); err != nil {
			conns.Close()
			return nil, err
		}
	}
	return s, nil
}

// reader returns the pool authorization reads are served from
func (s *Store) reader() *sql.DB {
	if s.replicaReads {
		return s.conns.Replica()
	}
	return s.conns.Primary()
}

// Connections exposes the underlying connection manager
func (s *Store) Connections() *ConnectionManager {
	return s.conns
}

// HealthCheck implements storage.Store
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close implements storage.Store
func (s *Store) Close() error {
	return s.conns.Close()
}

func notFound(kind string, id fmt.Stringer, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, authz.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", kind, err)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

func encodeConditions(conds []authz.Condition) (string, error) {
	if len(conds) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(conds)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	return string(data), nil
}

func decodeConditions(raw string) ([]authz.Condition, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var conds []authz.Condition
	if err := json.Unmarshal([]byte(raw), &conds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	return conds, nil
}

// GetUser implements authz.DataSource
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (*authz.User, error) {
	query := `
		SELECT id, username, department_id, clearance, is_active, account_locked_until
		FROM users
		WHERE id = $1
	`

	var (
		u      authz.User
		locked sql.NullTime
	)
	err := s.reader().QueryRowContext(ctx, query, userID).Scan(
		&u.ID,
		&u.Username,
		&u.DepartmentID,
		&u.Clearance,
		&u.IsActive,
		&locked,
	)
	if err != nil {
		return nil, notFound("user", userID, err)
	}
	u.AccountLockedUntil = nullTime(locked)
	return &u, nil
}

// GetActiveRoleAssignments implements authz.DataSource
func (s *Store) GetActiveRoleAssignments(ctx context.Context, userID uuid.UUID, now time.Time) ([]authz.UserRoleAssignment, error) {
	query := `
		SELECT id, user_id, role_id, assigned_by, assigned_at, expires_at, is_active
		FROM user_role_assignments
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY assigned_at, id
	`

	rows, err := s.reader().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role assignments: %w", err)
	}
	defer rows.Close()

	var out []authz.UserRoleAssignment
	for rows.Next() {
		var (
			a          authz.UserRoleAssignment
			assignedBy uuid.NullUUID
			expires    sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &assignedBy, &a.AssignedAt, &expires, &a.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan role assignment: %w", err)
		}
		a.AssignedBy = uuidPtr(assignedBy)
		a.AssignedAt = a.AssignedAt.UTC()
		a.ExpiresAt = nullTime(expires)
		if a.Effective(now) {
			out = append(out, a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role assignments: %w", err)
	}
	return out, nil
}

const roleColumns = `id, name, hierarchy_level, parent_role_id, is_active`

func scanRole(scan func(...interface{}) error) (authz.Role, error) {
	var (
		r      authz.Role
		parent uuid.NullUUID
	)
	if err := scan(&r.ID, &r.Name, &r.HierarchyLevel, &parent, &r.IsActive); err != nil {
		return r, err
	}
	r.ParentRoleID = uuidPtr(parent)
	return r, nil
}

// GetRole implements authz.DataSource
func (s *Store) GetRole(ctx context.Context, roleID uuid.UUID) (*authz.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	r, err := scanRole(s.reader().QueryRowContext(ctx, query, roleID).Scan)
	if err != nil {
		return nil, notFound("role", roleID, err)
	}
	return &r, nil
}

// GetChildRoles implements authz.DataSource
func (s *Store) GetChildRoles(ctx context.Context, roleID uuid.UUID) ([]authz.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE parent_role_id = $1 ORDER BY hierarchy_level, name`

	rows, err := s.reader().QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child roles: %w", err)
	}
	defer rows.Close()

	var out []authz.Role
	for rows.Next() {
		r, err := scanRole(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate child roles: %w", err)
	}
	return out, nil
}

// GetActiveRolePermissions implements authz.DataSource
func (s *Store) GetActiveRolePermissions(ctx context.Context, roleID uuid.UUID) ([]authz.RolePermission, error) {
	query := `
		SELECT p.id, p.resource_type, p.action, p.scope, p.is_active, rp.conditions
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND rp.is_active = TRUE AND p.is_active = TRUE
		ORDER BY p.resource_type, p.action, p.scope, rp.condition_key
	`

	rows, err := s.reader().QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer rows.Close()

	var out []authz.RolePermission
	for rows.Next() {
		var (
			rp    = authz.RolePermission{RoleID: roleID}
			conds string
		)
		p := &rp.Permission
		if err := rows.Scan(&p.ID, &p.ResourceType, &p.Action, &p.Scope, &p.IsActive, &conds); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		if rp.Conditions, err = decodeConditions(conds); err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role permissions: %w", err)
	}
	return out, nil
}

// GetActiveACEs implements authz.DataSource. Expired entries are returned;
// the engine decides what an expired entry means.
func (s *Store) GetActiveACEs(ctx context.Context, ref authz.ResourceRef) ([]authz.AccessControlEntry, error) {
	query := `
		SELECT id, resource_id, resource_type, user_id, role_id, department_id, project_id,
			permission_type, effect, conditions, expires_at, is_active
		FROM access_control_entries
		WHERE resource_id = $1 AND resource_type = $2 AND is_active = TRUE
		ORDER BY id
	`

	rows, err := s.reader().QueryContext(ctx, query, ref.ID, string(ref.Type))
	if err != nil {
		return nil, fmt.Errorf("failed to query access control entries: %w", err)
	}
	defer rows.Close()

	var out []authz.AccessControlEntry
	for rows.Next() {
		var (
			e       authz.AccessControlEntry
			conds   string
			expires sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.Resource.ID, &e.Resource.Type,
			&e.UserID, &e.RoleID, &e.DepartmentID, &e.ProjectID,
			&e.PermissionType, &e.Effect, &conds, &expires, &e.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan access control entry: %w", err)
		}
		if e.Conditions, err = decodeConditions(conds); err != nil {
			return nil, err
		}
		e.ExpiresAt = nullTime(expires)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access control entries: %w", err)
	}
	return out, nil
}

const resourceColumns = `id, resource_type, owner_id, project_id, department_id, session_id, session_owner_id, classification, tags`

func scanResource(scan func(...interface{}) error) (*authz.ResourceMeta, error) {
	var (
		m    authz.ResourceMeta
		tags string
	)
	if err := scan(
		&m.Ref.ID, &m.Ref.Type, &m.OwnerID, &m.ProjectID, &m.DepartmentID,
		&m.SessionID, &m.SessionOwnerID, &m.Classification, &tags,
	); err != nil {
		return nil, err
	}
	if tags != "" && tags != "{}" {
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &m, nil
}

// GetResourceMeta implements authz.DataSource
func (s *Store) GetResourceMeta(ctx context.Context, ref authz.ResourceRef) (*authz.ResourceMeta, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1 AND resource_type = $2`

	m, err := scanResource(s.reader().QueryRowContext(ctx, query, ref.ID, string(ref.Type)).Scan)
	if err != nil {
		return nil, notFound("resource", ref, err)
	}
	return m, nil
}

// ListResources implements storage.Reader
func (s *Store) ListResources(ctx context.Context, resourceType authz.ResourceType) ([]authz.ResourceMeta, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE resource_type = $1 ORDER BY id`

	rows, err := s.reader().QueryContext(ctx, query, string(resourceType))
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var out []authz.ResourceMeta
	for rows.Next() {
		m, err := scanResource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return out, nil
}

// GetActiveProjectIDs implements authz.DataSource
func (s *Store) GetActiveProjectIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT p.id
		FROM project_members m
		JOIN projects p ON p.id = m.project_id
		WHERE m.user_id = $1 AND m.is_active = TRUE AND p.is_active = TRUE
		ORDER BY p.id
	`

	rows, err := s.reader().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query project memberships: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project memberships: %w", err)
	}
	return out, nil
}
