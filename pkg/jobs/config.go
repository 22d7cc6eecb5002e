package jobs

import (
	"os"
	"strconv"
	"time"
)

// Config controls the job engine.
type Config struct {
	Concurrency      int           // Max concurrently running jobs. Default 3.
	PollInterval     time.Duration // How often idle workers look for queued jobs. Default 2s.
	ProgressInterval time.Duration // How often a running job's handle is polled. Default 1s.
	CancelGrace      time.Duration // Cooperative-shutdown window before forced termination. Default 10s.
	StuckTimeout     time.Duration // Max time in running before a job is failed as stuck. Default 12h.
	Enabled          bool          // Whether the engine runs. Default true.
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:      3,
		PollInterval:     2 * time.Second,
		ProgressInterval: 1 * time.Second,
		CancelGrace:      10 * time.Second,
		StuckTimeout:     12 * time.Hour,
		Enabled:          true,
	}
}

// ConfigFromEnv loads config from environment variables:
// PROT_JOB_CONCURRENCY, PROT_JOB_POLL_INTERVAL_SECONDS,
// PROT_JOB_CANCEL_GRACE_SECONDS, PROT_JOB_STUCK_TIMEOUT_MINUTES,
// PROT_JOB_ENABLED.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PROT_JOB_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}

	if v := os.Getenv("PROT_JOB_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("PROT_JOB_CANCEL_GRACE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CancelGrace = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("PROT_JOB_STUCK_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StuckTimeout = time.Duration(n) * time.Minute
		}
	}

	if v := os.Getenv("PROT_JOB_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
