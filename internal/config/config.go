// Package config loads the yaml configuration file and environment
// overrides. Every field has a usable default so the binary runs with no
// file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	// Bridge controls cross-process bus delivery. Listen makes this process
	// host the relay; Dial attaches to a relay hosted elsewhere. Both unset
	// keeps the bus in-process only.
	Bridge struct {
		Listen string `yaml:"listen"`
		Dial   string `yaml:"dial"`
	} `yaml:"bridge"`

	Presence struct {
		HeartbeatSeconds int `yaml:"heartbeat_seconds"`
	} `yaml:"presence"`

	AI struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"ai"`
}

// Load reads the config file at path (optional) and applies environment
// overrides. GEMINI_API_KEY always wins over the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Storage.DBPath = "teletab.db"
	cfg.Bridge.Listen = "127.0.0.1:7412"
	cfg.Presence.HeartbeatSeconds = 4

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	return cfg, nil
}

// Heartbeat returns the configured heartbeat as a duration.
func (c *Config) Heartbeat() time.Duration {
	if c.Presence.HeartbeatSeconds <= 0 {
		return 4 * time.Second
	}
	return time.Duration(c.Presence.HeartbeatSeconds) * time.Second
}
