package audit

import (
	"os"
	"strconv"
	"strings"
)

// Config controls audit behavior.
type Config struct {
	RetentionDays int  // how many days of events to keep
	Enabled       bool // whether the audit middleware records events
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 90,
		Enabled:       true,
	}
}

// ConfigFromEnv loads audit configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PROT_AUDIT_ENABLED: "true" or "false" (default: "true")
//   - PROT_AUDIT_RETENTION_DAYS: days of events to keep (default: 90)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PROT_AUDIT_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PROT_AUDIT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}

	return cfg
}
