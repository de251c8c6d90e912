// Package history persists conversion run history in a local SQLite database.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO. It implements driven.HistoryStore with two tables:
//
//   - runs: one row per conversion run
//   - job_results: one row per job, in submission order
//
// # Schema
//
// The schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.gdb2spatialite/history.db
package history
