package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsPortConflict(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Listen = cfg.Listen
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected a port-conflict error")
	}
}

func TestValidateRejectsBadTransportKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Kind = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for an unsupported transport kind")
	}
}

func TestLoadMergesOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	body := []byte("listen: \":7000\"\nsession:\n  window_size: 128\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Fatalf("Listen = %q, want :7000", cfg.Listen)
	}
	if cfg.Session.WindowSize != 128 {
		t.Fatalf("Session.WindowSize = %d, want 128", cfg.Session.WindowSize)
	}
	// Unset fields still come from DefaultConfig.
	if cfg.Fetch.MaxBlockRetries != 10 {
		t.Fatalf("Fetch.MaxBlockRetries = %d, want default 10", cfg.Fetch.MaxBlockRetries)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	body := []byte("session:\n  window_size: -1\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an invalid window_size")
	}
}
