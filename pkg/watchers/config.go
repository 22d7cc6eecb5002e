package watchers

import (
	"os"
	"strconv"
	"time"
)

// Config controls the watcher engine.
type Config struct {
	PollInterval   time.Duration // Folder scan interval per watcher. Default 5s.
	SettleInterval time.Duration // File size must hold steady this long before capture. 0 disables.
	Enabled        bool          // Whether the engine runs. Default true.
}

// DefaultConfig returns the default watcher engine configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   5 * time.Second,
		SettleInterval: time.Second,
		Enabled:        true,
	}
}

// ConfigFromEnv loads config from environment variables:
// PROT_WATCH_POLL_INTERVAL_SECONDS, PROT_WATCH_SETTLE_MILLIS,
// PROT_WATCH_ENABLED.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PROT_WATCH_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PROT_WATCH_SETTLE_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SettleInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("PROT_WATCH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}

	return cfg
}
