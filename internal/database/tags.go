package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

// GetPackageTags returns every dist-tag for a package.
func (s *Store) GetPackageTags(packageName string) ([]*models.PackageTag, error) {
	rows, err := s.db.Query(`SELECT id, package_name, tag_name, version, created_at, updated_at
		FROM package_tags WHERE package_name = ?`, packageName)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()

	var out []*models.PackageTag
	for rows.Next() {
		var t models.PackageTag
		if err := rows.Scan(&t.ID, &t.PackageName, &t.TagName, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, classifySQLiteError(err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpsertPackageTag moves a dist-tag to a new version.
func (s *Store) UpsertPackageTag(packageName, tagName, version string) error {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRow(`SELECT id FROM package_tags WHERE package_name = ? AND tag_name = ?`, packageName, tagName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.Exec(`INSERT INTO package_tags (package_name, tag_name, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`, packageName, tagName, version, now, now)
		return classifySQLiteError(err)
	}
	if err != nil {
		return classifySQLiteError(err)
	}
	_, err = s.db.Exec(`UPDATE package_tags SET version = ?, updated_at = ? WHERE id = ?`, version, now, id)
	return classifySQLiteError(err)
}
