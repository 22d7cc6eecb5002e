package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the response caches.
type Config struct {
	// Enabled controls whether caching is active at all.
	Enabled bool

	// ToolsTTL is the TTL for the /api/tools listing cache.
	ToolsTTL time.Duration

	// DemandsTTL is the TTL for /api/jobs/{id}/demands caches.
	DemandsTTL time.Duration

	// MaxSize is the maximum number of entries per cache.
	MaxSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		ToolsTTL:   5 * time.Minute,
		DemandsTTL: time.Minute,
		MaxSize:    1000,
	}
}

// ConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PROT_CACHE_ENABLED: "true" or "false" (default: "true")
//   - PROT_CACHE_TOOLS_TTL: seconds (default: 300)
//   - PROT_CACHE_DEMANDS_TTL: seconds (default: 60)
//   - PROT_CACHE_MAX_SIZE: max entries per cache (default: 1000)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PROT_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PROT_CACHE_TOOLS_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ToolsTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PROT_CACHE_DEMANDS_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.DemandsTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PROT_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}
