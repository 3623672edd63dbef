// Package metadatacache implements the on-disk metadata-document cache:
// <cache_root>/packages/<package>/metadata.json[.etag], with TTL-gated
// freshness for purely-upstream documents and permanent freshness for
// documents carrying a locally-published overlay.
package metadatacache

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clefregistry/clef/internal/database"
	"github.com/google/uuid"
)

// Entry is a cached metadata document.
type Entry struct {
	JSON []byte
	ETag string
}

// Store is the metadata cache.
type Store struct {
	root string
	ttl  time.Duration
	db   *database.Store
}

// New roots the cache at <cacheDir>/packages and applies ttl to
// purely-upstream documents (overlay-carrying documents never expire).
func New(cacheDir string, ttl time.Duration, db *database.Store) *Store {
	return &Store{root: filepath.Join(cacheDir, "packages"), ttl: ttl, db: db}
}

func (s *Store) jsonPath(pkg string) string {
	return filepath.Join(s.root, pkg, "metadata.json")
}

func (s *Store) etagPath(pkg string) string {
	return filepath.Join(s.root, pkg, "metadata.etag")
}

// Get returns the cached document and true if it is present and fresh.
// Freshness: documents newer than the TTL are always fresh; documents
// older than the TTL are fresh only if their MetadataCacheRecord carries
// has_local_overlay = true (recomposing them requires database work the
// cache alone cannot do, and local publishes already drive invalidation
// explicitly).
func (s *Store) Get(pkg string) (*Entry, bool) {
	info, err := os.Stat(s.jsonPath(pkg))
	if err != nil {
		return nil, false
	}

	age := time.Since(info.ModTime())
	if age < s.ttl {
		return s.read(pkg), true
	}

	record, err := s.db.GetMetadataCacheRecord(pkg)
	if err != nil || !record.HasLocalOverlay {
		return nil, false
	}
	return s.read(pkg), true
}

func (s *Store) read(pkg string) *Entry {
	data, err := os.ReadFile(s.jsonPath(pkg))
	if err != nil {
		return nil
	}
	etag := ""
	if raw, err := os.ReadFile(s.etagPath(pkg)); err == nil {
		etag = strings.TrimSpace(string(raw))
	}
	return &Entry{JSON: data, ETag: etag}
}

// ETag returns just the sidecar ETag, used to populate If-None-Match on a
// conditional upstream request even when Get itself reports a miss.
func (s *Store) ETag(pkg string) (string, bool) {
	raw, err := os.ReadFile(s.etagPath(pkg))
	if err != nil {
		return "", false
	}
	etag := strings.TrimSpace(string(raw))
	return etag, etag != ""
}

// Put writes the JSON document and its optional ETag sidecar (deleting any
// stale sidecar when etag is empty), then upserts the backing
// MetadataCacheRecord with the given overlay bit.
func (s *Store) Put(pkg string, jsonBytes []byte, etag string, hasLocalOverlay bool) error {
	dir := filepath.Join(s.root, pkg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if err := atomicWrite(s.jsonPath(pkg), jsonBytes); err != nil {
		return err
	}

	if etag != "" {
		if err := atomicWrite(s.etagPath(pkg), []byte(etag)); err != nil {
			return err
		}
	} else {
		os.Remove(s.etagPath(pkg))
	}

	var etagPtr *string
	if etag != "" {
		etagPtr = &etag
	}
	return s.db.UpsertMetadataCacheRecord(pkg, int64(len(jsonBytes)), s.jsonPath(pkg), etagPtr, hasLocalOverlay)
}

// Invalidate removes both on-disk files and the backing record, if present.
func (s *Store) Invalidate(pkg string) error {
	os.Remove(s.jsonPath(pkg))
	os.Remove(s.etagPath(pkg))
	return s.db.DeleteMetadataCacheRecord(pkg)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
