package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.MaxStalledCount != 2 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.BackoffBase() != 2*time.Second {
		t.Errorf("backoff base = %v, want 2s", cfg.BackoffBase())
	}
	if cfg.CompletedTTL() != time.Hour || cfg.FailedTTL() != 24*time.Hour {
		t.Errorf("retention = %v/%v", cfg.CompletedTTL(), cfg.FailedTTL())
	}
	if cfg.Workers.Count != 4 || cfg.DownloadTimeout() != 300*time.Second {
		t.Errorf("worker defaults = %+v", cfg.Workers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("WORKER_COUNT", "8")

	cfg, err := Load(writeConfig(t, "workers:\n  count: 2\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Supabase.URL != "https://example.supabase.co" {
		t.Errorf("supabase url = %q", cfg.Supabase.URL)
	}
	if cfg.Workers.Count != 8 {
		t.Errorf("worker count = %d, want env override 8", cfg.Workers.Count)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
