package config

import "testing"

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" || cfg.Backend != "local" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("KITCHEN_LOG_LEVEL", "debug")
	t.Setenv("KITCHEN_MAX_SCATTER", "4")
	t.Setenv("KITCHEN_MAX_OPEN_FILES", "256")

	cfg := DefaultRunConfig()
	cfg.ApplyEnv()

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MaxScatter != 4 {
		t.Errorf("MaxScatter = %d, want 4", cfg.MaxScatter)
	}
	if cfg.MaxOpenFiles != 256 {
		t.Errorf("MaxOpenFiles = %d, want 256", cfg.MaxOpenFiles)
	}
}
