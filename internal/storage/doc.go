// Package storage persists poll records.
//
// Drivers:
//   - memory: process-local map, for tests and development
//   - file: JSON snapshot plus an append-only JSONL journal, compacted periodically
//   - sqlite: single-file SQLite database (modernc.org/sqlite, no cgo)
//
// The store is the source of truth for polls; callers never cache records.
package storage
