package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
	if cfg.Calls.TurnFetchDeadline != 5*time.Second {
		t.Errorf("turn_fetch_deadline default = %v, want 5s", cfg.Calls.TurnFetchDeadline)
	}
	if cfg.Calls.RingingDedupWindow != 60*time.Second {
		t.Errorf("ringing_dedup_window default = %v, want 60s", cfg.Calls.RingingDedupWindow)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "transport url must not be empty",
			mutate: func(c *Config) {
				c.Transport.URL = ""
			},
		},
		{
			name: "transport write timeout must be > 0",
			mutate: func(c *Config) {
				c.Transport.WriteTimeout = 0
			},
		},
		{
			name: "send rate must be > 0",
			mutate: func(c *Config) {
				c.Transport.SendRatePerSec = 0
			},
		},
		{
			name: "turn fetch deadline must be > 0",
			mutate: func(c *Config) {
				c.Calls.TurnFetchDeadline = 0
			},
		},
		{
			name: "answer auth deadline must be > 0",
			mutate: func(c *Config) {
				c.Calls.AnswerAuthDeadline = 0
			},
		},
		{
			name: "connect fallback must be > 0",
			mutate: func(c *Config) {
				c.Calls.ConnectFallback = 0
			},
		},
		{
			name: "dedup window must be > 0",
			mutate: func(c *Config) {
				c.Calls.RingingDedupWindow = -time.Second
			},
		},
		{
			name: "storage path must not be empty",
			mutate: func(c *Config) {
				c.Storage.Path = ""
			},
		},
		{
			name: "prometheus port required when enabled",
			mutate: func(c *Config) {
				c.Monitoring.PrometheusEnabled = true
				c.Monitoring.PrometheusPort = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file should use defaults, got: %v", err)
	}
	if cfg.Transport.URL == "" {
		t.Error("defaults should set transport url")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("calls:\n  turn_fetch_deadline: 2s\nlogging:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Calls.TurnFetchDeadline != 2*time.Second {
		t.Errorf("turn_fetch_deadline = %v, want 2s", cfg.Calls.TurnFetchDeadline)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched sections keep defaults.
	if cfg.Calls.AnswerAuthDeadline != 10*time.Second {
		t.Errorf("answer_auth_deadline = %v, want default 10s", cfg.Calls.AnswerAuthDeadline)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WHISPER_LOG_LEVEL", "warn")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("logging.level = %q, want warn (env override)", cfg.Logging.Level)
	}
}
