// Package database is the relational store: a thin layer over
// database/sql implementing the registry's entity operations against a
// SQLite database configured for WAL-style concurrency.
package database

import "database/sql"

// Store is the registry's relational store. It wraps a pooled *sql.DB and
// exposes one method group per entity (packages, versions, files, owners,
// tags, organizations, users/tokens, metadata-cache, cache-stats).
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for callers (e.g. health checks) that
// need a raw ping.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }
