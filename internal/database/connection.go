package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	poolMaxOpenConns    = 20
	poolMaxIdleConns    = 2
	poolConnMaxIdleTime = 300 * time.Second
	poolConnMaxLifetime = 1800 * time.Second
)

// Open creates the parent directory of databaseURL, opens a pooled SQLite
// connection, applies the per-connection pragmas required for WAL-style
// concurrency, and runs pending migrations.
func Open(databaseURL string, log *logrus.Logger) (*sql.DB, error) {
	if dir := filepath.Dir(databaseURL); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: create parent dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=60000", databaseURL)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	db.SetMaxOpenConns(poolMaxOpenConns)
	db.SetMaxIdleConns(poolMaxIdleConns)
	db.SetConnMaxIdleTime(poolConnMaxIdleTime)
	db.SetConnMaxLifetime(poolConnMaxLifetime)

	if err := applyPragmas(db, log); err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db, log); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// applyPragmas sets the per-connection PRAGMAs in the exact order and
// criticality the store requires: busy_timeout is fatal if it cannot be
// set, every other pragma is best-effort and only logs a warning.
func applyPragmas(db *sql.DB, log *logrus.Logger) error {
	if _, err := db.Exec("PRAGMA busy_timeout = 60000"); err != nil {
		return fmt.Errorf("database: set busy_timeout (critical): %w", err)
	}

	var walErr error
	for attempt := 0; attempt < 3; attempt++ {
		if _, walErr = db.Exec("PRAGMA journal_mode = WAL"); walErr == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if walErr != nil {
		log.WithError(walErr).Warn("database: could not enable WAL journal mode, continuing without it")
	}

	bestEffort := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -32000",
		"PRAGMA wal_autocheckpoint = 1000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA case_sensitive_like = ON",
	}
	for _, stmt := range bestEffort {
		if _, err := db.Exec(stmt); err != nil {
			log.WithError(err).WithField("pragma", stmt).Warn("database: pragma failed, continuing")
		}
	}

	return nil
}
