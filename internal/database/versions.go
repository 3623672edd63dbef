package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

const versionColumns = `id, package_id, version, description, main_file, scripts, dependencies, dev_dependencies, peer_dependencies, engines, shasum, readme, created_at, updated_at`

func scanVersion(row interface{ Scan(...any) error }) (*models.PackageVersion, error) {
	var v models.PackageVersion
	var description, mainFile, scripts, dependencies, devDependencies, peerDependencies, engines, shasum, readme sql.NullString
	if err := row.Scan(&v.ID, &v.PackageID, &v.Version, &description, &mainFile, &scripts, &dependencies,
		&devDependencies, &peerDependencies, &engines, &shasum, &readme, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Description = fromNullString(description)
	v.MainFile = fromNullString(mainFile)
	v.Scripts = fromNullString(scripts)
	v.Dependencies = fromNullString(dependencies)
	v.DevDependencies = fromNullString(devDependencies)
	v.PeerDependencies = fromNullString(peerDependencies)
	v.Engines = fromNullString(engines)
	v.Shasum = fromNullString(shasum)
	v.Readme = fromNullString(readme)
	return &v, nil
}

// GetPackageVersion returns ErrNotFound if absent.
func (s *Store) GetPackageVersion(packageID int64, version string) (*models.PackageVersion, error) {
	row := s.db.QueryRow(`SELECT `+versionColumns+` FROM package_versions WHERE package_id = ? AND version = ?`, packageID, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return v, nil
}

// GetPackageVersions returns every version row for a package, unordered.
func (s *Store) GetPackageVersions(packageID int64) ([]*models.PackageVersion, error) {
	rows, err := s.db.Query(`SELECT `+versionColumns+` FROM package_versions WHERE package_id = ?`, packageID)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	defer rows.Close()
	var out []*models.PackageVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, classifySQLiteError(err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// VersionMetadata is the set of extracted per-version fields a publish
// request supplies.
type VersionMetadata struct {
	Description      *string
	MainFile         *string
	Scripts          *string
	Dependencies     *string
	DevDependencies  *string
	PeerDependencies *string
	Engines          *string
	Shasum           *string
	Readme           *string
	CreatedAt        *time.Time
}

// CreateOrGetPackageVersionWithMetadata reads by (package_id, version). If
// absent, it inserts with the extracted fields. If present and not
// forceUpdate, it re-enriches only when the existing row has no metadata
// at all or a missing/empty README (the hard "re-enrich" signals);
// otherwise it returns the existing row unchanged.
func (s *Store) CreateOrGetPackageVersionWithMetadata(packageID int64, version string, meta VersionMetadata, forceUpdate bool) (*models.PackageVersion, error) {
	existing, err := s.GetPackageVersion(packageID, version)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	createdAt := now
	if meta.CreatedAt != nil {
		createdAt = *meta.CreatedAt
	}

	if existing == nil {
		_, err := s.db.Exec(`INSERT INTO package_versions
			(package_id, version, description, main_file, scripts, dependencies, dev_dependencies, peer_dependencies, engines, shasum, readme, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			packageID, version, toNullString(meta.Description), toNullString(meta.MainFile), toNullString(meta.Scripts),
			toNullString(meta.Dependencies), toNullString(meta.DevDependencies), toNullString(meta.PeerDependencies),
			toNullString(meta.Engines), toNullString(meta.Shasum), toNullString(meta.Readme), createdAt, now)
		if err != nil {
			return nil, classifySQLiteError(err)
		}
		return s.GetPackageVersion(packageID, version)
	}

	shouldUpdate := forceUpdate || existing.HasNoMetadata() || existing.ReadmeMissing()
	if !shouldUpdate {
		return existing, nil
	}

	_, err = s.db.Exec(`UPDATE package_versions SET description = ?, main_file = ?, scripts = ?, dependencies = ?,
		dev_dependencies = ?, peer_dependencies = ?, engines = ?, shasum = ?, readme = ?, updated_at = ?
		WHERE id = ?`,
		toNullString(meta.Description), toNullString(meta.MainFile), toNullString(meta.Scripts), toNullString(meta.Dependencies),
		toNullString(meta.DevDependencies), toNullString(meta.PeerDependencies), toNullString(meta.Engines),
		toNullString(meta.Shasum), toNullString(meta.Readme), now, existing.ID)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.GetPackageVersion(packageID, version)
}
