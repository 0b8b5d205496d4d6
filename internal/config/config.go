package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the dispatch server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (":memory:" for testing)

	// Scheduling.
	PollInterval     time.Duration // Dispatcher liveness fallback
	HeartbeatTimeout time.Duration // Worker considered lost after this silence

	// Scoring.
	Scorer           string  // "linear", "constant", or "script"
	ScorerScript     string  // JS expression for the script scorer
	BaselinePriority float64 // Fallback when the scorer errors
	MinPriority      float64
	MaxPriority      float64
}

// DefaultServerConfig returns sensible defaults. The 30s heartbeat timeout
// pairs with workers heartbeating at most every timeout/3.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:             ":8080",
		LogLevel:         "info",
		LogFormat:        "text",
		PollInterval:     2 * time.Second,
		HeartbeatTimeout: 30 * time.Second,
		Scorer:           "linear",
		BaselinePriority: 1.0,
		MinPriority:      0.1,
		MaxPriority:      10.0,
	}
}

// fileConfig mirrors ServerConfig for YAML decoding. Durations are strings
// ("30s", "2m") and numeric fields are pointers so that absent keys keep
// their base values.
type fileConfig struct {
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	DBPath    string `yaml:"db_path"`

	PollInterval     string `yaml:"poll_interval"`
	HeartbeatTimeout string `yaml:"heartbeat_timeout"`

	Scorer           string   `yaml:"scorer"`
	ScorerScript     string   `yaml:"scorer_script"`
	BaselinePriority *float64 `yaml:"baseline_priority"`
	MinPriority      *float64 `yaml:"min_priority"`
	MaxPriority      *float64 `yaml:"max_priority"`
}

// LoadFile reads a YAML config file over the given base config. Fields
// absent from the file keep their base values.
func LoadFile(path string, base ServerConfig) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := base
	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		cfg.LogFormat = fc.LogFormat
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return base, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if fc.HeartbeatTimeout != "" {
		d, err := time.ParseDuration(fc.HeartbeatTimeout)
		if err != nil {
			return base, fmt.Errorf("parse heartbeat_timeout: %w", err)
		}
		cfg.HeartbeatTimeout = d
	}
	if fc.Scorer != "" {
		cfg.Scorer = fc.Scorer
	}
	if fc.ScorerScript != "" {
		cfg.ScorerScript = fc.ScorerScript
	}
	if fc.BaselinePriority != nil {
		cfg.BaselinePriority = *fc.BaselinePriority
	}
	if fc.MinPriority != nil {
		cfg.MinPriority = *fc.MinPriority
	}
	if fc.MaxPriority != nil {
		cfg.MaxPriority = *fc.MaxPriority
	}
	return cfg, nil
}
