package database

import (
	"time"

	"github.com/clefregistry/clef/internal/models"
)

// GetCacheStats reads the singleton hit/miss row.
func (s *Store) GetCacheStats() (*models.CacheStatsRecord, error) {
	var r models.CacheStatsRecord
	err := s.db.QueryRow(`SELECT id, hit_count, miss_count, created_at, updated_at FROM cache_stats_records WHERE id = 1`).
		Scan(&r.ID, &r.HitCount, &r.MissCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, classifySQLiteError(err)
	}
	return &r, nil
}

// IncrementCacheHit persists a hit against the singleton counter row, the
// durable counter read by the cache-stats management endpoint and CLI.
// internal/tarballcache separately keeps in-memory hit/miss counters of
// its own tarball lookups; internal/metadatacache keeps none.
func (s *Store) IncrementCacheHit() error {
	_, err := s.db.Exec(`UPDATE cache_stats_records SET hit_count = hit_count + 1, updated_at = ? WHERE id = 1`, time.Now().UTC())
	return classifySQLiteError(err)
}

// IncrementCacheMiss mirrors IncrementCacheHit for misses.
func (s *Store) IncrementCacheMiss() error {
	_, err := s.db.Exec(`UPDATE cache_stats_records SET miss_count = miss_count + 1, updated_at = ? WHERE id = 1`, time.Now().UTC())
	return classifySQLiteError(err)
}
