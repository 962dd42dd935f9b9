// Package store persists tenant-authored logic scripts in SQLite.
//
// The store is the single source of truth for scripts; the cache layer in
// internal/cache is a read-through, write-invalidate view over it. Every
// query is tenant-scoped, and every ordered read uses the same deterministic
// ORDER BY (sequence_order, created_at, id) so evaluation order is stable
// across processes and restarts.
package store
