// Package storage persists the set of already-dispatched notification keys
// so that de-duplication survives process restarts.
//
// Two drivers are available:
//   - "file":   snapshot + append-only journal (no external dependencies)
//   - "sqlite": single-file SQLite database (modernc.org/sqlite, pure Go)
package storage
