// Package config loads the registry's runtime configuration from the
// environment, mirroring the upstream-registry/cache/database knobs
// described by the wire spec.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config is the fully-resolved runtime configuration for one process.
type Config struct {
	UpstreamRegistry string
	Host             string
	Port             int
	Scheme           string

	CacheEnabled  bool
	CacheDir      string
	CacheTTLHours int

	DatabaseURL string

	RedisURL string

	LogLevel  string
	LogFormat string

	RegistryPrefix       string
	ShutdownGraceSeconds int

	Environment        string
	CORSAllowedOrigins []string
}

// Load reads configuration from the environment (after best-effort .env
// discovery), applying the same defaults the original implementation
// shipped.
func Load() (*Config, error) {
	LoadEnvOnce()

	cacheDir := GetEnvWithFallback("CACHE_DIR", "./data")
	port := GetEnvIntWithFallback("PORT", 8000)

	scheme := GetEnvWithFallback("SCHEME", "http")
	if port == 443 {
		scheme = "https"
	}

	cfg := &Config{
		UpstreamRegistry: GetEnvWithFallback("UPSTREAM_REGISTRY", "https://registry.npmjs.org"),
		Host:             GetEnvWithFallback("HOST", "127.0.0.1"),
		Port:             port,
		Scheme:           scheme,

		CacheEnabled:  GetEnvBoolWithFallback("CACHE_ENABLED", true),
		CacheDir:      cacheDir,
		CacheTTLHours: GetEnvIntWithFallback("CACHE_TTL_HOURS", 24),

		DatabaseURL: GetEnvWithFallback("DATABASE_URL", filepath.Join(cacheDir, "clef.db")),

		RedisURL: GetEnvWithFallback("REDIS_URL", ""),

		LogLevel:  GetEnvWithFallback("LOG_LEVEL", "info"),
		LogFormat: GetEnvWithFallback("LOG_FORMAT", "text"),

		RegistryPrefix:       GetEnvWithFallback("REGISTRY_PREFIX", ""),
		ShutdownGraceSeconds: GetEnvIntWithFallback("SHUTDOWN_GRACE_SECONDS", 15),

		Environment:        GetEnvWithFallback("ENVIRONMENT", "development"),
		CORSAllowedOrigins: splitAndTrim(GetEnvWithFallback("CORS_ALLOWED_ORIGINS", "*")),
	}

	if cfg.CacheTTLHours < 0 {
		return nil, fmt.Errorf("config: CACHE_TTL_HOURS must be >= 0, got %d", cfg.CacheTTLHours)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: PORT out of range: %d", cfg.Port)
	}

	return cfg, nil
}

// BaseURL is the externally-visible origin used to rewrite tarball URLs.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// BindAddr is the address the HTTP server listens on.
func (c *Config) BindAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
