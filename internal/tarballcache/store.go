// Package tarballcache implements the on-disk, content-addressed-by-name
// tarball store: <cache_root>/packages/<package>/<filename>[.meta].
package tarballcache

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Entry is the result of a successful Get.
type Entry struct {
	Bytes     []byte
	ETag      string
	Size      int64
	CreatedAt time.Time
}

// Store is the tarball cache. It never evicts; hit/miss counters are
// in-memory atomics, reset on process restart.
type Store struct {
	root      string
	hitCount  atomic.Int64
	missCount atomic.Int64
}

// New roots the cache at <cacheDir>/packages.
func New(cacheDir string) *Store {
	return &Store{root: filepath.Join(cacheDir, "packages")}
}

func (s *Store) packageDir(pkg string) string {
	return filepath.Join(s.root, pkg)
}

func (s *Store) tarballPath(pkg, filename string) string {
	return filepath.Join(s.packageDir(pkg), filename)
}

func (s *Store) metaPath(pkg, filename string) string {
	return s.tarballPath(pkg, filename) + ".meta"
}

// Get reads the tarball if present, incrementing the hit counter on
// success and the miss counter on absence or read error.
func (s *Store) Get(pkg, filename string) (*Entry, bool) {
	path := s.tarballPath(pkg, filename)
	info, err := os.Stat(path)
	if err != nil {
		s.missCount.Add(1)
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		s.missCount.Add(1)
		return nil, false
	}

	etag := ""
	if metaBytes, err := os.ReadFile(s.metaPath(pkg, filename)); err == nil {
		etag = strings.TrimSpace(string(metaBytes))
	}

	s.hitCount.Add(1)
	return &Entry{Bytes: data, ETag: etag, Size: info.Size(), CreatedAt: info.ModTime()}, true
}

// Exists reports presence without affecting hit/miss counters.
func (s *Store) Exists(pkg, filename string) bool {
	_, err := os.Stat(s.tarballPath(pkg, filename))
	return err == nil
}

// Put writes the tarball whole (via a temp-file-then-rename, so readers
// never observe a partial file) and its optional ETag sidecar. It returns
// the absolute file path for the caller to record in the relational
// store.
func (s *Store) Put(pkg, filename string, data []byte, etag string) (string, error) {
	dir := s.packageDir(pkg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := s.tarballPath(pkg, filename)
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}

	if etag != "" {
		if err := atomicWrite(s.metaPath(pkg, filename), []byte(etag)); err != nil {
			return "", err
		}
	}

	return path, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ExtractVersionFromFilename parses the "<name>-<version>.tgz" convention,
// falling back to the literal "unknown" on any failure to parse — used
// only by the bare upstream-mirror store path; the publish path always
// supplies an explicit version instead.
func ExtractVersionFromFilename(name, filename string) string {
	base := strings.TrimSuffix(filename, ".tgz")
	shortName := name
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		shortName = name[idx+1:]
	}
	prefix := shortName + "-"
	if !strings.HasPrefix(base, prefix) {
		return "unknown"
	}
	version := strings.TrimPrefix(base, prefix)
	if version == "" {
		return "unknown"
	}
	return version
}

// Stats walks the packages subtree, summing the size of every .tgz file.
type Stats struct {
	Entries   int64
	SizeBytes int64
	HitCount  int64
	MissCount int64
}

func (s *Store) Stats() (Stats, error) {
	stats := Stats{
		HitCount:  s.hitCount.Load(),
		MissCount: s.missCount.Load(),
	}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tgz") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		stats.Entries++
		stats.SizeBytes += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return stats, err
	}
	return stats, nil
}

// Clear destructively removes everything under the cache root. For
// administrative use only.
func (s *Store) Clear() error {
	return os.RemoveAll(s.root)
}
