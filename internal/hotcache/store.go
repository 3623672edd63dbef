// Package hotcache implements the optional Redis read-through accelerator
// in front of composed package metadata. It is never authoritative: a
// miss or a disabled cache simply means the caller falls through to the
// composer, and every entry carries its own short TTL independent of the
// on-disk metadata cache's freshness rules.
package hotcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// Store wraps an optional Redis client. A nil client makes every method a
// no-op, so callers never need to branch on whether Redis is configured.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New parses redisURL and connects, or returns a disabled Store when
// redisURL is empty — the accelerator degrades to pass-through with no
// Redis configured.
func New(redisURL string, ttl time.Duration) (*Store, error) {
	if redisURL == "" {
		return &Store{}, nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Store{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Enabled reports whether a Redis backend is actually configured.
func (s *Store) Enabled() bool {
	return s != nil && s.client != nil
}

func cacheKey(packageName string) string {
	return "clef:metadata:" + packageName
}

// Get returns the cached document body and true on a hit. Any Redis error
// (including redis.Nil) is treated as a miss; the accelerator must never
// turn a Redis outage into a user-facing error.
func (s *Store) Get(ctx context.Context, packageName string) ([]byte, bool) {
	if !s.Enabled() {
		return nil, false
	}
	val, err := s.client.Get(ctx, cacheKey(packageName)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores the document with the accelerator's own short TTL. Errors are
// swallowed for the same reason as Get: this path may never become a
// source of truth or a source of failure.
func (s *Store) Set(ctx context.Context, packageName string, body []byte) {
	if !s.Enabled() {
		return
	}
	s.client.Set(ctx, cacheKey(packageName), body, s.ttl)
}

// Invalidate evicts a single package's cached entry, used on local publish
// so a hot-cached pre-publish document cannot outlive the TTL unnecessarily.
func (s *Store) Invalidate(ctx context.Context, packageName string) {
	if !s.Enabled() {
		return
	}
	s.client.Del(ctx, cacheKey(packageName))
}

// Close releases the underlying connection pool, if any.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.client.Close()
}
