// Package storage is the relational persistence layer for schedule entries,
// their run audit trail, the settings key/value table and the tick lock.
//
// Two drivers are supported:
//   - "sqlite": modernc.org/sqlite, single file, lease-row tick lock
//   - "postgres": jackc/pgx stdlib, session-scoped advisory tick lock
//
// Table names carry a configurable prefix so several deployments can share
// one database.
package storage
