// Package storage defines the backends the authorization engine reads from.
//
// Two implementations exist:
//
//   - storage/memory: an in-process snapshot loaded from a YAML policy file
//     and swapped atomically on reload
//   - storage/postgres: a database/sql store for PostgreSQL (lib/pq) and
//     SQLite (go-sqlite3), with migrations and read replica support
//
// Both satisfy Store: the engine consumes the read side (authz.DataSource)
// and administrators use the Admin write side, which reports an
// authz.Change for cache invalidation.
package storage
