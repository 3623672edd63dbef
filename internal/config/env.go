package config

import (
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

var envLoadOnce sync.Once

// LoadEnvOnce loads the first .env file found in a handful of likely
// locations. Missing files are not an error — process environment
// variables always take precedence over whatever a .env file sets.
func LoadEnvOnce() {
	envLoadOnce.Do(loadEnvironment)
}

func loadEnvironment() {
	candidates := []string{".env", "../.env", "../../.env"}
	if root := os.Getenv("APP_ROOT"); root != "" {
		candidates = append(candidates, root+"/.env")
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// GetEnvWithFallback returns the process environment variable named key,
// or fallback if it is unset or empty.
func GetEnvWithFallback(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvIntWithFallback parses key as an integer, returning fallback if
// unset or unparseable.
func GetEnvIntWithFallback(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// GetEnvBoolWithFallback parses key as a bool, returning fallback if unset
// or unparseable.
func GetEnvBoolWithFallback(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
