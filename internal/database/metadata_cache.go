package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/clefregistry/clef/internal/models"
)

// GetMetadataCacheRecord returns ErrNotFound if absent.
func (s *Store) GetMetadataCacheRecord(packageName string) (*models.MetadataCacheRecord, error) {
	var r models.MetadataCacheRecord
	var etag sql.NullString
	err := s.db.QueryRow(`SELECT package_name, size_bytes, file_path, etag, has_local_overlay, created_at, updated_at, last_accessed, access_count
		FROM metadata_cache_records WHERE package_name = ?`, packageName).
		Scan(&r.PackageName, &r.SizeBytes, &r.FilePath, &etag, &r.HasLocalOverlay, &r.CreatedAt, &r.UpdatedAt, &r.LastAccessed, &r.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	r.ETag = fromNullString(etag)
	return &r, nil
}

// UpsertMetadataCacheRecord updates an existing row (never resetting
// access_count) or inserts a new one.
func (s *Store) UpsertMetadataCacheRecord(packageName string, sizeBytes int64, filePath string, etag *string, hasLocalOverlay bool) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE metadata_cache_records
		SET size_bytes = ?, file_path = ?, etag = ?, has_local_overlay = ?, updated_at = ?
		WHERE package_name = ?`, sizeBytes, filePath, toNullString(etag), hasLocalOverlay, now, packageName)
	if err != nil {
		return classifySQLiteError(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = s.db.Exec(`INSERT INTO metadata_cache_records
		(package_name, size_bytes, file_path, etag, has_local_overlay, created_at, updated_at, last_accessed, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`, packageName, sizeBytes, filePath, toNullString(etag), hasLocalOverlay, now, now, now)
	return classifySQLiteError(err)
}

// TouchMetadataCacheRecord increments access_count/last_accessed.
func (s *Store) TouchMetadataCacheRecord(packageName string) error {
	_, err := s.db.Exec(`UPDATE metadata_cache_records SET last_accessed = ?, access_count = access_count + 1 WHERE package_name = ?`,
		time.Now().UTC(), packageName)
	return classifySQLiteError(err)
}

// DeleteMetadataCacheRecord removes a single row, used on invalidation.
func (s *Store) DeleteMetadataCacheRecord(packageName string) error {
	_, err := s.db.Exec(`DELETE FROM metadata_cache_records WHERE package_name = ?`, packageName)
	return classifySQLiteError(err)
}

// MetadataCacheStats aggregates count + total size across all rows.
type MetadataCacheStats struct {
	Entries   int64
	TotalSize int64
}

func (s *Store) GetMetadataCacheStats() (MetadataCacheStats, error) {
	var stats MetadataCacheStats
	var totalSize sql.NullInt64
	err := s.db.QueryRow(`SELECT COUNT(*), SUM(size_bytes) FROM metadata_cache_records`).Scan(&stats.Entries, &totalSize)
	if err != nil {
		return stats, classifySQLiteError(err)
	}
	stats.TotalSize = totalSize.Int64
	return stats, nil
}

// ClearMetadataCacheRecords deletes every row; used by the administrative
// cache-clear command.
func (s *Store) ClearMetadataCacheRecords() error {
	_, err := s.db.Exec(`DELETE FROM metadata_cache_records`)
	return classifySQLiteError(err)
}
