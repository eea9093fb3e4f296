package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/platinummonkey/memauthz/pkg/observability"
)

// SkipIfNoDatabase skips the test unless TEST_POSTGRES_PRIMARY names a database
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}
	return dbURL
}

// RequireDatabase opens a migrated store on TEST_POSTGRES_PRIMARY or skips the test
func RequireDatabase(t *testing.T) *Store {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)
	conns, err := NewConnectionManager(ConnectionConfig{PrimaryURL: dbURL, MaxConns: 5}, observability.NopLogger())
	if err != nil {
		t.Skipf("Database not reachable: %v", err)
	}
	if err := RunMigrations(context.Background(), conns.Primary(), nil); err != nil {
		conns.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	s := NewStore(conns, nil)
	t.Cleanup(func() { s.Close() })
	return s
}

// NewSQLiteStore opens a migrated in-memory SQLite store for tests
func NewSQLiteStore(t *testing.T) *Store {
	t.Helper()

	conns, err := NewConnectionManager(ConnectionConfig{Driver: DriverSQLite, PrimaryURL: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := RunMigrations(context.Background(), conns.Primary(), nil); err != nil {
		conns.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	s := NewStore(conns, nil)
	t.Cleanup(func() { s.Close() })
	return s
}
