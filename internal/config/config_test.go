package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, "relay:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trace.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.Trace.RetentionDays)
	}
	if cfg.Delivery.HandlerBudgetMs != 250 {
		t.Errorf("HandlerBudgetMs = %d, want 250", cfg.Delivery.HandlerBudgetMs)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	path := writeTestConfig(t, "storage:\n  path: /tmp/custom\ntrace:\n  retention_days: 30\nhttp:\n  addr: \":9090\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "/tmp/custom" {
		t.Errorf("Storage.Path = %q, want /tmp/custom", cfg.Storage.Path)
	}
	if cfg.Trace.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.Trace.RetentionDays)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("HTTP.Addr = %q, want :9090", cfg.HTTP.Addr)
	}
}

func TestLoadRejectsNegativeRetention(t *testing.T) {
	path := writeTestConfig(t, "trace:\n  retention_days: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative retention_days")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/relay.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
