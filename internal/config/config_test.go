package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := Default()
	if cfg.Server.TickInterval != 100*time.Millisecond {
		t.Errorf("tick interval default = %v", cfg.Server.TickInterval)
	}
	if cfg.Server.IdleTimeout != 30*time.Second {
		t.Errorf("idle timeout default = %v", cfg.Server.IdleTimeout)
	}
	if cfg.Sync.HistoryHorizon != 32 {
		t.Errorf("history horizon default = %d", cfg.Sync.HistoryHorizon)
	}
	if cfg.Sync.DeltaEpsilon != 1e-4 {
		t.Errorf("delta epsilon default = %v", cfg.Sync.DeltaEpsilon)
	}
	if cfg.Chat.MuteThreshold != 5 {
		t.Errorf("mute threshold default = %d", cfg.Chat.MuteThreshold)
	}
	if cfg.Database.Path == "" {
		t.Error("database path default missing")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `
server:
  region: eu-west
  http_port: 9090
  tick_interval: 50ms
sync:
  history_horizon: 64
chat:
  blocklist:
    - grief
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Server.Region != "eu-west" || cfg.Server.HTTPPort != 9090 {
		t.Fatalf("server overrides lost: %+v", cfg.Server)
	}
	if cfg.Server.TickInterval != 50*time.Millisecond {
		t.Fatalf("tick interval = %v", cfg.Server.TickInterval)
	}
	if cfg.Sync.HistoryHorizon != 64 {
		t.Fatalf("history horizon = %d", cfg.Sync.HistoryHorizon)
	}
	if len(cfg.Chat.Blocklist) != 1 || cfg.Chat.Blocklist[0] != "grief" {
		t.Fatalf("blocklist = %v", cfg.Chat.Blocklist)
	}
	// Unset fields still get defaults.
	if cfg.Server.IdleTimeout != 30*time.Second {
		t.Fatalf("idle timeout default lost: %v", cfg.Server.IdleTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yml"); err == nil {
		t.Fatal("missing config file accepted")
	}
}
