package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateStore.Host != "valkey" {
		t.Errorf("expected default host 'valkey', got %q", cfg.StateStore.Host)
	}
	if cfg.Approval.TimeGateSecs != 15 {
		t.Errorf("expected default time gate 15, got %d", cfg.Approval.TimeGateSecs)
	}
}

func TestLoadAppliesYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polis.yaml")
	contents := []byte("listen: \":9999\"\nstate_store:\n  host: redis.internal\n  port: 7000\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("listen override not applied: %q", cfg.Listen)
	}
	if cfg.StateStore.Host != "redis.internal" || cfg.StateStore.Port != 7000 {
		t.Errorf("state store override not applied: %+v", cfg.StateStore)
	}
}

func TestEnvOverridesWinOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polis.yaml")
	if err := os.WriteFile(path, []byte("state_store:\n  host: from-yaml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POLIS_STATE_HOST", "from-env")
	t.Setenv("POLIS_APPROVAL_TIME_GATE_SECS", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateStore.Host != "from-env" {
		t.Errorf("expected env override to win, got %q", cfg.StateStore.Host)
	}
	if cfg.Approval.TimeGateSecs != 42 {
		t.Errorf("expected POLIS_APPROVAL_TIME_GATE_SECS=42 applied, got %d", cfg.Approval.TimeGateSecs)
	}
}

func TestValidateRejectsBadPollerBounds(t *testing.T) {
	cfg := defaults()
	cfg.Poller.PollMin = 100
	cfg.Poller.PollMax = 10
	if err := validate(cfg); err == nil {
		t.Fatal("expected validation error for poll_max < poll_min")
	}
}
