package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackfillConfig tunes the bootstrap backfill loop. WriteQueueCount is
// the bridging-queue threshold at which chunk pulling pauses;
// WriteQueueTrickleFraction is how many dispatcher acks are released per
// drained queue entry, and must stay below 1 so the queue shrinks.
type BackfillConfig struct {
	WriteQueueCount           int           `yaml:"write_queue_count"`
	WriteQueueTrickleFraction float64       `yaml:"write_queue_trickle_fraction"`
	ChunkMaxKeys              int           `yaml:"chunk_max_keys"`
	MaxConcurrentIntoNode     int           `yaml:"max_concurrent_into_node"`
	SynchronizeTimeout        time.Duration `yaml:"synchronize_timeout"`
}

// PrimaryConfig holds the primary dispatcher connection configuration
type PrimaryConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxOutstanding int           `yaml:"max_outstanding"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
}

// Config represents the complete configuration for the replica node
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Primary  PrimaryConfig  `yaml:"primary"`
	Backfill BackfillConfig `yaml:"backfill"`
	Gossip   GossipConfig   `yaml:"gossip"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultBackfillConfig returns the backfill tuning used when no file is
// loaded, e.g. in tests.
func DefaultBackfillConfig() BackfillConfig {
	cfg := BackfillConfig{}
	applyBackfillDefaults(&cfg)
	return cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50053
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Primary.Port == 0 {
		cfg.Primary.Port = 50051
	}
	if cfg.Primary.MaxOutstanding == 0 {
		cfg.Primary.MaxOutstanding = 64
	}
	if cfg.Primary.RetryInterval == 0 {
		cfg.Primary.RetryInterval = 5 * time.Second
	}

	applyBackfillDefaults(&cfg.Backfill)

	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9102
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyBackfillDefaults(cfg *BackfillConfig) {
	if cfg.WriteQueueCount == 0 {
		cfg.WriteQueueCount = 1000
	}
	if cfg.WriteQueueTrickleFraction == 0 {
		cfg.WriteQueueTrickleFraction = 0.5
	}
	if cfg.ChunkMaxKeys == 0 {
		cfg.ChunkMaxKeys = 128
	}
	if cfg.MaxConcurrentIntoNode == 0 {
		cfg.MaxConcurrentIntoNode = 2
	}
	if cfg.SynchronizeTimeout == 0 {
		cfg.SynchronizeTimeout = 30 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Backfill.WriteQueueCount < 1 {
		return fmt.Errorf("backfill.write_queue_count must be positive")
	}
	if c.Backfill.WriteQueueTrickleFraction <= 0 || c.Backfill.WriteQueueTrickleFraction >= 1 {
		return fmt.Errorf("backfill.write_queue_trickle_fraction must be in (0, 1)")
	}
	if c.Backfill.ChunkMaxKeys < 1 {
		return fmt.Errorf("backfill.chunk_max_keys must be positive")
	}
	return nil
}
