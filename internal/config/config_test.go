package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("EXAMFORGE_PER_CALL_CAP", "")
	t.Setenv("EXAMFORGE_STALE_THRESHOLD_SECONDS", "")
	cfg := Load()
	if cfg.PerCallCap != 60 || cfg.BufferCap != 20 || cfg.BufferRatio != 1.5 {
		t.Fatalf("unexpected planner defaults: %+v", cfg)
	}
	if cfg.StaleThreshold() != 7*time.Minute {
		t.Fatalf("unexpected stale threshold: %s", cfg.StaleThreshold())
	}
	if cfg.RetryBaseDelay() != 2*time.Second || cfg.MaxRetries != 2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("EXAMFORGE_PER_CALL_CAP", "25")
	t.Setenv("EXAMFORGE_MAX_RETRIES", "not-a-number")
	t.Setenv("EXAMFORGE_RETRY_FROM_FAILED", "yes")
	t.Setenv("EXAMFORGE_CONTINUATION", "LOCAL")
	cfg := Load()
	if cfg.PerCallCap != 25 {
		t.Fatalf("expected override, got %d", cfg.PerCallCap)
	}
	if cfg.MaxRetries != 2 {
		t.Fatalf("expected fallback for bad int, got %d", cfg.MaxRetries)
	}
	if !cfg.RetryFromFailed {
		t.Fatalf("expected retry from failed enabled")
	}
	if cfg.ContinuationMode != "local" {
		t.Fatalf("expected lowercased continuation mode, got %q", cfg.ContinuationMode)
	}
}
