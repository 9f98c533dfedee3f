// Package config loads and validates the overlay node's runtime
// configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	Session   SessionConfig   `yaml:"session"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Transport TransportConfig `yaml:"transport"`
}

// SessionConfig tunes the per-peer reliable datagram layer.
type SessionConfig struct {
	WindowSize      int `yaml:"window_size"`
	AckUrgencyMs    int `yaml:"ack_urgency_ms"`
	ResendActiveMs  int `yaml:"resend_active_ms"`
	ResendUrgencyMs int `yaml:"resend_urgency_ms"`
	IdleTimeoutSec  int `yaml:"idle_timeout_sec"`
}

// FetchConfig tunes the redundant split-file fetch segment.
type FetchConfig struct {
	MaxBlockRetries int `yaml:"max_block_retries"`
	HealOneInN      int `yaml:"heal_one_in_n"`
}

// TransportConfig selects and configures the datagram carrier.
type TransportConfig struct {
	Kind   string `yaml:"kind"` // "udp" or "websocket"
	WSPath string `yaml:"ws_path"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
}

// Load reads and validates a config file, filling unset fields from
// DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns the configuration a node runs with if no file
// is supplied, matching the window/timing constants the session and
// fetch packages fall back to internally.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":9631",
		LogLevel: "info",
		Session: SessionConfig{
			WindowSize:      256,
			AckUrgencyMs:    200,
			ResendActiveMs:  500,
			ResendUrgencyMs: 200,
			IdleTimeoutSec:  300,
		},
		Fetch: FetchConfig{
			MaxBlockRetries: 10,
			HealOneInN:      5,
		},
		Transport: TransportConfig{
			Kind:   "udp",
			WSPath: "/overlay",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Listen:     ":9632",
			Path:       "/metrics",
			HealthPath: "/healthz",
		},
	}
}

// Validate checks the configuration for internal consistency,
// including the listen/metrics port-conflict check the session and
// metrics servers would otherwise fail on at bind time.
func (c *Config) Validate() error {
	mainPort, err := parsePort(c.Listen)
	if err != nil {
		return fmt.Errorf("config: listen: %w", err)
	}

	if c.Session.WindowSize <= 0 {
		return fmt.Errorf("config: session.window_size must be positive")
	}
	if c.Session.AckUrgencyMs <= 0 || c.Session.ResendActiveMs <= 0 || c.Session.ResendUrgencyMs <= 0 {
		return fmt.Errorf("config: session timing fields must be positive")
	}
	if c.Fetch.MaxBlockRetries < 0 {
		return fmt.Errorf("config: fetch.max_block_retries must be non-negative")
	}
	if c.Fetch.HealOneInN <= 0 {
		return fmt.Errorf("config: fetch.heal_one_in_n must be positive")
	}
	switch c.Transport.Kind {
	case "udp", "websocket":
	default:
		return fmt.Errorf("config: transport.kind must be \"udp\" or \"websocket\", got %q", c.Transport.Kind)
	}

	if c.Metrics.Enabled {
		metricsPort, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("config: metrics.listen: %w", err)
		}
		if metricsPort == mainPort {
			return fmt.Errorf("config: metrics.listen (%d) conflicts with listen", metricsPort)
		}
	}

	return nil
}

func parsePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return port, nil
}
