package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Transport struct {
		URL              string        `yaml:"url"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongTimeout      time.Duration `yaml:"pong_timeout"`
		ReconnectMax     time.Duration `yaml:"reconnect_max"`
		SendRatePerSec   float64       `yaml:"send_rate_per_sec"`
		SendBurst        int           `yaml:"send_burst"`
	} `yaml:"transport"`

	Calls struct {
		TurnFetchDeadline  time.Duration `yaml:"turn_fetch_deadline"`
		AnswerAuthDeadline time.Duration `yaml:"answer_auth_deadline"`
		ConnectFallback    time.Duration `yaml:"connect_fallback"`
		RingingDedupWindow time.Duration `yaml:"ringing_dedup_window"`
	} `yaml:"calls"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Identity struct {
		UserID       string `yaml:"user_id"`
		SessionToken string `yaml:"session_token"`
		KeyFile      string `yaml:"key_file"`
	} `yaml:"identity"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Transport
	if c.Transport.URL == "" {
		return fmt.Errorf("transport.url must not be empty")
	}
	if c.Transport.HandshakeTimeout <= 0 {
		return fmt.Errorf("transport.handshake_timeout must be > 0")
	}
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport.write_timeout must be > 0")
	}
	if c.Transport.PingInterval <= 0 {
		return fmt.Errorf("transport.ping_interval must be > 0")
	}
	if c.Transport.PongTimeout <= 0 {
		return fmt.Errorf("transport.pong_timeout must be > 0")
	}
	if c.Transport.ReconnectMax <= 0 {
		return fmt.Errorf("transport.reconnect_max must be > 0")
	}
	if c.Transport.SendRatePerSec <= 0 {
		return fmt.Errorf("transport.send_rate_per_sec must be > 0")
	}
	if c.Transport.SendBurst <= 0 {
		return fmt.Errorf("transport.send_burst must be > 0")
	}

	// Calls
	if c.Calls.TurnFetchDeadline <= 0 {
		return fmt.Errorf("calls.turn_fetch_deadline must be > 0")
	}
	if c.Calls.AnswerAuthDeadline <= 0 {
		return fmt.Errorf("calls.answer_auth_deadline must be > 0")
	}
	if c.Calls.ConnectFallback <= 0 {
		return fmt.Errorf("calls.connect_fallback must be > 0")
	}
	if c.Calls.RingingDedupWindow <= 0 {
		return fmt.Errorf("calls.ringing_dedup_window must be > 0")
	}

	// Storage
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Transport.URL = "wss://localhost:8443/ws"
	cfg.Transport.HandshakeTimeout = 10 * time.Second
	cfg.Transport.WriteTimeout = 10 * time.Second
	cfg.Transport.PingInterval = 30 * time.Second
	cfg.Transport.PongTimeout = 60 * time.Second
	cfg.Transport.ReconnectMax = 30 * time.Second
	cfg.Transport.SendRatePerSec = 50
	cfg.Transport.SendBurst = 100

	cfg.Calls.TurnFetchDeadline = 5 * time.Second
	cfg.Calls.AnswerAuthDeadline = 10 * time.Second
	cfg.Calls.ConnectFallback = 3 * time.Second
	cfg.Calls.RingingDedupWindow = 60 * time.Second

	cfg.Identity.KeyFile = "whispercall.keys"

	cfg.Storage.Path = "whispercall.db"

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if url := os.Getenv("WHISPER_TRANSPORT_URL"); url != "" {
		c.Transport.URL = url
	}
	if path := os.Getenv("WHISPER_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if level := os.Getenv("WHISPER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if user := os.Getenv("WHISPER_USER_ID"); user != "" {
		c.Identity.UserID = user
	}
	if token := os.Getenv("WHISPER_SESSION_TOKEN"); token != "" {
		c.Identity.SessionToken = token
	}
}
