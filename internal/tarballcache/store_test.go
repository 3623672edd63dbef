package tarballcache

import (
	"bytes"
	"testing"
)

func TestPutThenGet(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	path, err := s.Put("lodash", "lodash-4.17.21.tgz", []byte("HELLO"), "\"abc123\"")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty file path")
	}

	entry, ok := s.Get("lodash", "lodash-4.17.21.tgz")
	if !ok {
		t.Fatal("expected cache hit after Put")
	}
	if !bytes.Equal(entry.Bytes, []byte("HELLO")) {
		t.Fatalf("got bytes %q", entry.Bytes)
	}
	if entry.ETag != "\"abc123\"" {
		t.Fatalf("got etag %q", entry.ETag)
	}
}

func TestGetMissIncrementsCounter(t *testing.T) {
	s := New(t.TempDir())

	if _, ok := s.Get("missing", "missing-1.0.0.tgz"); ok {
		t.Fatal("expected miss")
	}
	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.MissCount != 1 {
		t.Fatalf("MissCount = %d, want 1", stats.MissCount)
	}

	if _, err := s.Put("pkg", "pkg-1.0.0.tgz", []byte("x"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := s.Get("pkg", "pkg-1.0.0.tgz"); !ok {
		t.Fatal("expected hit")
	}
	stats, err = s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.HitCount != 1 {
		t.Fatalf("HitCount = %d, want 1", stats.HitCount)
	}
	if stats.Entries != 1 || stats.SizeBytes != 1 {
		t.Fatalf("Stats = %+v", stats)
	}
}

func TestExtractVersionFromFilename(t *testing.T) {
	cases := []struct {
		name, filename, want string
	}{
		{"lodash", "lodash-4.17.21.tgz", "4.17.21"},
		{"@types/node", "node-20.1.0.tgz", "20.1.0"},
		{"weird", "totally-different.tgz", "unknown"},
	}
	for _, c := range cases {
		if got := ExtractVersionFromFilename(c.name, c.filename); got != c.want {
			t.Errorf("ExtractVersionFromFilename(%q, %q) = %q, want %q", c.name, c.filename, got, c.want)
		}
	}
}

func TestClearRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if _, err := s.Put("pkg", "pkg-1.0.0.tgz", []byte("x"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := s.Get("pkg", "pkg-1.0.0.tgz"); ok {
		t.Fatal("expected everything to be gone after Clear")
	}
}
