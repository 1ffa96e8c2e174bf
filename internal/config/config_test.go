package config

import (
	"testing"
	"time"
)

func TestLoadRequiresRenderBaseURL(t *testing.T) {
	t.Setenv("RENDER_BASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without RENDER_BASE_URL")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RENDER_BASE_URL", "https://render.example")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("unexpected port: %s", cfg.Port)
	}
	if cfg.JobTimeout != 90*time.Second {
		t.Fatalf("unexpected job timeout: %s", cfg.JobTimeout)
	}
	if cfg.WatchdogTimeout != 45*time.Second {
		t.Fatalf("unexpected watchdog timeout: %s", cfg.WatchdogTimeout)
	}
	if cfg.OverallTimeout != 5*time.Minute {
		t.Fatalf("unexpected overall timeout: %s", cfg.OverallTimeout)
	}
	if cfg.ProgressWindow != 200*time.Millisecond {
		t.Fatalf("unexpected progress window: %s", cfg.ProgressWindow)
	}
	if cfg.RetryDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected retry delay: %s", cfg.RetryDelay)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RENDER_BASE_URL", "https://render.example")
	t.Setenv("JOB_TIMEOUT_SECONDS", "120")
	t.Setenv("PROGRESS_WINDOW_MS", "50")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.JobTimeout != 120*time.Second {
		t.Fatalf("unexpected job timeout: %s", cfg.JobTimeout)
	}
	if cfg.ProgressWindow != 50*time.Millisecond {
		t.Fatalf("unexpected progress window: %s", cfg.ProgressWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestGetenvDurationIgnoresGarbage(t *testing.T) {
	t.Setenv("RENDER_BASE_URL", "https://render.example")
	t.Setenv("WATCHDOG_TIMEOUT_SECONDS", "not-a-number")
	t.Setenv("STUCK_THRESHOLD_SECONDS", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.WatchdogTimeout != 45*time.Second {
		t.Fatalf("garbage should fall back to default, got %s", cfg.WatchdogTimeout)
	}
	if cfg.StuckThreshold != 60*time.Second {
		t.Fatalf("negative should fall back to default, got %s", cfg.StuckThreshold)
	}
}
