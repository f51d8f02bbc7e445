package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.Storage.DBPath != "teletab.db" {
		t.Errorf("Unexpected default db path: %s", cfg.Storage.DBPath)
	}
	if cfg.Bridge.Listen != "127.0.0.1:7412" {
		t.Errorf("Unexpected default bridge address: %s", cfg.Bridge.Listen)
	}
	if cfg.Heartbeat() != 4*time.Second {
		t.Errorf("Unexpected default heartbeat: %v", cfg.Heartbeat())
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
storage:
  db_path: /tmp/other.db
presence:
  heartbeat_seconds: 10
ai:
  api_key: from-file
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/other.db" {
		t.Errorf("Expected file db path, got %s", cfg.Storage.DBPath)
	}
	if cfg.Heartbeat() != 10*time.Second {
		t.Errorf("Expected 10s heartbeat, got %v", cfg.Heartbeat())
	}
	if cfg.AI.APIKey != "from-file" {
		t.Errorf("Expected api key from file, got %s", cfg.AI.APIKey)
	}
	// Unset sections keep their defaults.
	if cfg.Bridge.Listen != "127.0.0.1:7412" {
		t.Errorf("Expected default bridge address, got %s", cfg.Bridge.Listen)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ai:\n  api_key: from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AI.APIKey != "from-env" {
		t.Errorf("Expected env to win, got %s", cfg.AI.APIKey)
	}
}

func TestMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestHeartbeatFloor(t *testing.T) {
	cfg := &Config{}
	cfg.Presence.HeartbeatSeconds = -1
	if cfg.Heartbeat() != 4*time.Second {
		t.Errorf("Expected fallback heartbeat, got %v", cfg.Heartbeat())
	}
}
