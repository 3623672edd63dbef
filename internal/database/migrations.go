package database

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// schemaVersion is bumped whenever migrationStatements grows; RunMigrations
// is idempotent because it tracks applied versions in schema_migrations.
const schemaVersion = 1

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS user_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		token TEXT NOT NULL UNIQUE,
		token_type TEXT NOT NULL CHECK (token_type IN ('auth','publish')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMP,
		is_active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_tokens_token ON user_tokens(token)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT,
		description TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		role TEXT NOT NULL CHECK (role IN ('owner','admin','member')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(organization_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		author_id INTEGER REFERENCES users(id),
		homepage TEXT,
		repository_url TEXT,
		license TEXT,
		keywords TEXT,
		organization_id INTEGER REFERENCES organizations(id),
		is_private BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS package_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_id INTEGER NOT NULL REFERENCES packages(id),
		version TEXT NOT NULL,
		description TEXT,
		main_file TEXT,
		scripts TEXT,
		dependencies TEXT,
		dev_dependencies TEXT,
		peer_dependencies TEXT,
		engines TEXT,
		shasum TEXT,
		readme TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(package_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS package_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_version_id INTEGER NOT NULL REFERENCES package_versions(id),
		filename TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		upstream_url TEXT NOT NULL,
		file_path TEXT NOT NULL,
		etag TEXT,
		content_type TEXT,
		last_accessed TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		access_count INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(package_version_id, filename)
	)`,
	`CREATE TABLE IF NOT EXISTS package_owners (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_name TEXT NOT NULL,
		user_id INTEGER NOT NULL REFERENCES users(id),
		permission_level TEXT NOT NULL CHECK (permission_level IN ('read','write','admin')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(package_name, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS package_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		package_name TEXT NOT NULL,
		tag_name TEXT NOT NULL,
		version TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(package_name, tag_name)
	)`,
	`CREATE TABLE IF NOT EXISTS metadata_cache_records (
		package_name TEXT PRIMARY KEY,
		size_bytes INTEGER NOT NULL,
		file_path TEXT NOT NULL,
		etag TEXT,
		has_local_overlay BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_accessed TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		access_count INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS cache_stats_records (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		hit_count INTEGER NOT NULL DEFAULT 0,
		miss_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT OR IGNORE INTO cache_stats_records (id, hit_count, miss_count) VALUES (1, 0, 0)`,
}

// RunMigrations applies the schema to db exactly once, tracked in
// schema_migrations; running it twice against an already-current database
// is a no-op.
func RunMigrations(db *sql.DB, log *logrus.Logger) error {
	if _, err := db.Exec(migrationStatements[0]); err != nil {
		return fmt.Errorf("database: create schema_migrations: %w", err)
	}

	var applied int
	row := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, schemaVersion)
	if err := row.Scan(&applied); err != nil {
		return fmt.Errorf("database: check migration state: %w", err)
	}
	if applied > 0 {
		log.WithField("version", schemaVersion).Debug("database: migrations already applied")
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("database: begin migration tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range migrationStatements[1:] {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("database: apply migration statement: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("database: record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("database: commit migration tx: %w", err)
	}

	log.WithField("version", schemaVersion).Info("database: migrations applied")
	return nil
}
