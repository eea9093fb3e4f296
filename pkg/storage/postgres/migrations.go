package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/memauthz/pkg/authz"
	"github.com/platinummonkey/memauthz/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations. The statements are written
// to run unchanged on PostgreSQL and SQLite.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					department_id UUID,
					clearance VARCHAR(32) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					account_locked_until TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_users_department_id ON users(department_id);
			`,
		},
		{
			Version:     2,
			Description: "Create roles and permissions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					hierarchy_level INTEGER NOT NULL,
					parent_role_id UUID REFERENCES roles(id) ON DELETE SET NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_roles_parent_role_id ON roles(parent_role_id);

				CREATE TABLE IF NOT EXISTS permissions (
					id UUID PRIMARY KEY,
					resource_type VARCHAR(64) NOT NULL,
					action VARCHAR(64) NOT NULL,
					scope VARCHAR(32) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					UNIQUE(resource_type, action, scope)
				);

				CREATE TABLE IF NOT EXISTS role_permissions (
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					condition_key TEXT NOT NULL DEFAULT '',
					conditions TEXT NOT NULL DEFAULT '[]',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					PRIMARY KEY (role_id, permission_id, condition_key)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create user_role_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_role_assignments (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					assigned_by UUID,
					assigned_at TIMESTAMP NOT NULL,
					expires_at TIMESTAMP,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);
				CREATE INDEX IF NOT EXISTS idx_user_role_assignments_user_id ON user_role_assignments(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create projects and project_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					department_id UUID,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE TABLE IF NOT EXISTS project_members (
					project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					PRIMARY KEY (project_id, user_id)
				);
				CREATE INDEX IF NOT EXISTS idx_project_members_user_id ON project_members(user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create resources table",
			SQL: `
				CREATE TABLE IF NOT EXISTS resources (
					id UUID NOT NULL,
					resource_type VARCHAR(64) NOT NULL,
					owner_id UUID NOT NULL,
					project_id UUID,
					department_id UUID,
					session_id UUID,
					session_owner_id UUID,
					classification VARCHAR(32) NOT NULL,
					tags TEXT NOT NULL DEFAULT '{}',
					PRIMARY KEY (id, resource_type)
				);
				CREATE INDEX IF NOT EXISTS idx_resources_resource_type ON resources(resource_type);
			`,
		},
		{
			Version:     6,
			Description: "Create access_control_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS access_control_entries (
					id UUID PRIMARY KEY,
					resource_id UUID NOT NULL,
					resource_type VARCHAR(64) NOT NULL,
					user_id UUID,
					role_id UUID,
					department_id UUID,
					project_id UUID,
					permission_type VARCHAR(64) NOT NULL,
					effect VARCHAR(8) NOT NULL,
					conditions TEXT NOT NULL DEFAULT '[]',
					expires_at TIMESTAMP,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);
				CREATE INDEX IF NOT EXISTS idx_access_control_entries_resource ON access_control_entries(resource_id, resource_type);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS memauthz_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM memauthz_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		logger.WithFields(map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO memauthz_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// InitializeBuiltInRoles upserts the built-in roles and their permissions
func InitializeBuiltInRoles(ctx context.Context, store *Store) error {
	// children reference their parent, so seed the most junior role first
	roles := authz.BuiltInRoles()
	for i := len(roles) - 1; i >= 0; i-- {
		b := roles[i]
		role := b.Role
		if _, err := store.CreateRole(ctx, &role); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
		for _, p := range b.Permissions {
			perm := p
			if _, err := store.CreatePermission(ctx, &perm); err != nil {
				return fmt.Errorf("failed to seed permission %s: %w", perm.Code(), err)
			}
			if _, err := store.GrantPermission(ctx, role.ID, perm.ID, nil); err != nil {
				return fmt.Errorf("failed to grant %s to %s: %w", perm.Code(), role.Name, err)
			}
		}
	}
	return nil
}
