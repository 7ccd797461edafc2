// Package storage is the task catalog: durable task definitions plus the
// execution history written by the execution log.
//
// Drivers:
//   - "memory":   process-local maps, for tests and throwaway runs
//   - "sqlite":   modernc.org/sqlite database file (default)
//   - "postgres": PostgreSQL through a pgx connection pool
package storage
