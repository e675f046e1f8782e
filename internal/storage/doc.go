// Package storage persists reminder records and the audit trail.
//
// Drivers:
//   - "file":     snapshot + append-only JSON-lines journal
//   - "memory":   the file driver without a backing directory (tests, dry runs)
//   - "sqlite":   modernc.org/sqlite, single writer connection, WAL
//   - "postgres": pgx connection pool
//
// Every operation is atomic for one reminder id. State transitions are
// compare-and-set: a write that finds the record in an unexpected state
// fails with *StateConflictError and changes nothing.
package storage
