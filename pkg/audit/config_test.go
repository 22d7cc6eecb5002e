package audit

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
	if !cfg.Enabled {
		t.Error("expected Enabled to be true")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PROT_AUDIT_ENABLED", "false")
	t.Setenv("PROT_AUDIT_RETENTION_DAYS", "7")

	cfg := ConfigFromEnv()
	if cfg.Enabled {
		t.Error("expected Enabled to be false")
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.RetentionDays)
	}
}

func TestConfigFromEnvIgnoresInvalidRetention(t *testing.T) {
	t.Setenv("PROT_AUDIT_RETENTION_DAYS", "-3")

	cfg := ConfigFromEnv()
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want default 90", cfg.RetentionDays)
	}
}
