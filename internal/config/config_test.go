package config

import (
	"os"
	"testing"
)

func clearRegistryEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"UPSTREAM_REGISTRY", "HOST", "PORT", "SCHEME", "CACHE_ENABLED",
		"CACHE_DIR", "CACHE_TTL_HOURS", "DATABASE_URL", "REDIS_URL",
		"LOG_LEVEL", "LOG_FORMAT", "REGISTRY_PREFIX", "SHUTDOWN_GRACE_SECONDS",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearRegistryEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.UpstreamRegistry != "https://registry.npmjs.org" {
		t.Errorf("UpstreamRegistry = %q", cfg.UpstreamRegistry)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q", cfg.Host)
	}
	if cfg.Port != 8000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.Scheme != "http" {
		t.Errorf("Scheme = %q", cfg.Scheme)
	}
	if !cfg.CacheEnabled {
		t.Error("CacheEnabled should default true")
	}
	if cfg.CacheTTLHours != 24 {
		t.Errorf("CacheTTLHours = %d", cfg.CacheTTLHours)
	}
	if cfg.DatabaseURL != "data/clef.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadSchemeAutoHTTPSOn443(t *testing.T) {
	clearRegistryEnv(t)
	os.Setenv("PORT", "443")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Scheme != "https" {
		t.Errorf("expected auto-https at port 443, got %q", cfg.Scheme)
	}
}

func TestLoadRejectsNegativeTTL(t *testing.T) {
	clearRegistryEnv(t)
	os.Setenv("CACHE_TTL_HOURS", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative CACHE_TTL_HOURS")
	}
}

func TestBaseURL(t *testing.T) {
	cfg := &Config{Scheme: "http", Host: "127.0.0.1", Port: 8000}
	if got := cfg.BaseURL(); got != "http://127.0.0.1:8000" {
		t.Errorf("BaseURL() = %q", got)
	}
}
