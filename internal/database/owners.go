package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

// GetPackageOwner returns ErrNotFound if user has no ownership row on pkg.
func (s *Store) GetPackageOwner(packageName string, userID int64) (*models.PackageOwner, error) {
	var o models.PackageOwner
	err := s.db.QueryRow(`SELECT id, package_name, user_id, permission_level, created_at
		FROM package_owners WHERE package_name = ? AND user_id = ?`, packageName, userID).
		Scan(&o.ID, &o.PackageName, &o.UserID, &o.PermissionLevel, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return &o, nil
}

// CreatePackageOwner inserts a new ownership row.
func (s *Store) CreatePackageOwner(packageName string, userID int64, level models.PermissionLevel) error {
	_, err := s.db.Exec(`INSERT INTO package_owners (package_name, user_id, permission_level, created_at)
		VALUES (?, ?, ?, ?)`, packageName, userID, level, time.Now().UTC())
	return classifySQLiteError(err)
}

// CanWritePackage reports whether user has a write/admin PackageOwner row.
func (s *Store) CanWritePackage(packageName string, userID int64) (bool, error) {
	owner, err := s.GetPackageOwner(packageName, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner.PermissionLevel.CanWrite(), nil
}

// CanPublish implements can_publish: true if the package doesn't exist
// yet, or the user already has write/admin ownership of it.
func (s *Store) CanPublish(packageName string, userID int64) (bool, error) {
	exists, err := s.PackageExists(packageName)
	if err != nil {
		return false, err
	}
	if !exists {
		return true, nil
	}
	return s.CanWritePackage(packageName, userID)
}
