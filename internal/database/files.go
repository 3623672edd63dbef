package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

const fileColumns = `id, package_version_id, filename, size_bytes, upstream_url, file_path, etag, content_type, last_accessed, access_count, created_at`

func scanFile(row interface{ Scan(...any) error }) (*models.PackageFile, error) {
	var f models.PackageFile
	var etag, contentType sql.NullString
	if err := row.Scan(&f.ID, &f.PackageVersionID, &f.Filename, &f.SizeBytes, &f.UpstreamURL, &f.FilePath,
		&etag, &contentType, &f.LastAccessed, &f.AccessCount, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ETag = fromNullString(etag)
	f.ContentType = fromNullString(contentType)
	return &f, nil
}

// GetPackageFile looks up a file by (package_version_id, filename).
func (s *Store) GetPackageFile(packageVersionID int64, filename string) (*models.PackageFile, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM package_files WHERE package_version_id = ? AND filename = ?`,
		packageVersionID, filename)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return f, nil
}

// GetPackageFileByName looks up a file via its owning package's name,
// joining packages -> package_versions -> package_files, the shape the
// tarball-serving request path needs.
func (s *Store) GetPackageFileByName(packageName, filename string) (*models.PackageFile, error) {
	row := s.db.QueryRow(`
		SELECT f.id, f.package_version_id, f.filename, f.size_bytes, f.upstream_url, f.file_path,
		       f.etag, f.content_type, f.last_accessed, f.access_count, f.created_at
		FROM package_files f
		JOIN package_versions v ON v.id = f.package_version_id
		JOIN packages p ON p.id = v.package_id
		WHERE p.name = ? AND f.filename = ?`, packageName, filename)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return f, nil
}

// GetPackageFileByVersionID returns the first file attached to a version,
// used by the composer to recover a version's tarball filename when
// building a locally-published document (a version has exactly one
// attachment in practice; the publish algorithm never writes more).
func (s *Store) GetPackageFileByVersionID(packageVersionID int64) (*models.PackageFile, error) {
	row := s.db.QueryRow(`SELECT `+fileColumns+` FROM package_files WHERE package_version_id = ? LIMIT 1`, packageVersionID)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return f, nil
}

// CreateOrUpdatePackageFile inserts a new file row, or — if one already
// exists for (package_version_id, filename) — bumps its access counters
// and returns the *existing* row unmodified otherwise: file_path and
// size_bytes are immutable after creation.
func (s *Store) CreateOrUpdatePackageFile(packageVersionID int64, filename string, sizeBytes int64, upstreamURL, filePath string, etag, contentType *string) (*models.PackageFile, error) {
	existing, err := s.GetPackageFile(packageVersionID, filename)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if err := s.touchPackageFile(existing.ID); err != nil {
			return nil, err
		}
		return s.GetPackageFile(packageVersionID, filename)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(`INSERT INTO package_files
		(package_version_id, filename, size_bytes, upstream_url, file_path, etag, content_type, last_accessed, access_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		packageVersionID, filename, sizeBytes, upstreamURL, filePath, toNullString(etag), toNullString(contentType), now, now)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return s.GetPackageFile(packageVersionID, filename)
}

func (s *Store) touchPackageFile(id int64) error {
	_, err := s.db.Exec(`UPDATE package_files SET last_accessed = ?, access_count = access_count + 1 WHERE id = ?`,
		time.Now().UTC(), id)
	return classifySQLiteError(err)
}

// TouchPackageFileByName increments access_count/last_accessed for the
// file served on a tarball GET/HEAD, looked up by package+filename.
func (s *Store) TouchPackageFileByName(packageName, filename string) error {
	f, err := s.GetPackageFileByName(packageName, filename)
	if err != nil {
		return err
	}
	return s.touchPackageFile(f.ID)
}
