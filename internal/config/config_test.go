package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if err := validateConfig(cfg); err != nil {
		t.Fatalf("Default configuration does not validate: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.NumThreads != 0 {
		t.Errorf("NumThreads = %d, want 0 (auto)", cfg.Engine.NumThreads)
	}
	if cfg.Engine.NoDefaults {
		t.Error("NoDefaults should be off by default")
	}
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want /ws", cfg.WebSocket.Path)
	}
	if cfg.Cache.Enabled || cfg.Audit.Enabled {
		t.Error("External sinks must be opt-in")
	}
	if cfg.ETL.BatchSize <= 0 {
		t.Errorf("ETL.BatchSize = %d, want positive", cfg.ETL.BatchSize)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroPort", func(c *Config) { c.Server.Port = 0 }},
		{"PortTooHigh", func(c *Config) { c.Server.Port = 70000 }},
		{"ZeroBodyCap", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"RateLimitZeroRPM", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.RequestsPerMinute = 0
		}},
		{"RateLimitZeroBurst", func(c *Config) {
			c.Server.RateLimit.Enabled = true
			c.Server.RateLimit.Burst = 0
		}},
		{"NegativeThreads", func(c *Config) { c.Engine.NumThreads = -1 }},
		{"UnknownLogLevel", func(c *Config) { c.Logging.Level = "verbose" }},
		{"UnknownLogFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"CacheWithoutURL", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.RedisURL = ""
		}},
		{"AuditWithoutURL", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.DatabaseURL = ""
		}},
		{"ZeroBatchSize", func(c *Config) { c.ETL.BatchSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Error("Invalid configuration passed validation")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("OverridesAndDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plumbr.yaml")
		yaml := `server:
  port: 9090
  read_timeout: 10s
engine:
  quiet: true
  compliance:
    - hipaa
logging:
  level: debug
`
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}

		if cfg.Server.Port != 9090 {
			t.Errorf("Port = %d, want 9090", cfg.Server.Port)
		}
		if cfg.Server.ReadTimeout != 10*time.Second {
			t.Errorf("ReadTimeout = %v, want 10s", cfg.Server.ReadTimeout)
		}
		if !cfg.Engine.Quiet {
			t.Error("Engine.Quiet override not applied")
		}
		if len(cfg.Engine.Compliance) != 1 || cfg.Engine.Compliance[0] != "hipaa" {
			t.Errorf("Compliance = %v, want [hipaa]", cfg.Engine.Compliance)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
		}

		// Sections the file does not mention keep their defaults.
		if cfg.WebSocket.Path != "/ws" {
			t.Errorf("WebSocket.Path = %q, want default /ws", cfg.WebSocket.Path)
		}
		if cfg.ETL.BatchSize <= 0 {
			t.Errorf("ETL.BatchSize = %d, want default", cfg.ETL.BatchSize)
		}
	})

	t.Run("RejectsInvalidValues", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plumbr.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: -5\n"), 0o644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}

		if _, err := Load(path); err == nil {
			t.Fatal("Invalid port was accepted")
		}
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("Missing explicit config file was accepted")
		}
	})
}
