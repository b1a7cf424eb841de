package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Sync     SyncConfig     `yaml:"sync"`
	Chat     ChatConfig     `yaml:"chat"`
}

// ServerConfig holds listen and tick settings
type ServerConfig struct {
	Region       string        `yaml:"region"`
	ListenAddr   string        `yaml:"listen_addr"`
	HTTPPort     int           `yaml:"http_port"`
	TickInterval time.Duration `yaml:"tick_interval"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	DrainGrace   time.Duration `yaml:"drain_grace"`
	// HandshakeRate is accepted handshakes per second per client IP;
	// HandshakeBurst is the bucket size.
	HandshakeRate  float64 `yaml:"handshake_rate"`
	HandshakeBurst int     `yaml:"handshake_burst"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// RetryQueueSize bounds the persistence retry buffer; RetryBase and
	// RetryMax shape the exponential backoff between attempts.
	RetryQueueSize int           `yaml:"retry_queue_size"`
	RetryBase      time.Duration `yaml:"retry_base"`
	RetryMax       time.Duration `yaml:"retry_max"`
}

// AuthConfig holds identity token settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// SyncConfig holds snapshot and broadcast tuning
type SyncConfig struct {
	// HistoryHorizon is how many recent full tick states the encoder
	// retains as delta baselines.
	HistoryHorizon int `yaml:"history_horizon"`
	// DeltaEpsilon suppresses numeric field changes smaller than this,
	// so simulation jitter is not retransmitted.
	DeltaEpsilon float64 `yaml:"delta_epsilon"`
	// QueueCapacity bounds each session's outbound frame queue.
	QueueCapacity int `yaml:"queue_capacity"`
	// CriticalCapacity caps the per-session critical side channel.
	CriticalCapacity int `yaml:"critical_capacity"`
	// LeaderboardInterval is the decoupled cadence for publishing and
	// distributing leaderboard snapshots.
	LeaderboardInterval time.Duration `yaml:"leaderboard_interval"`
}

// ChatConfig holds moderation settings
type ChatConfig struct {
	Blocklist []string `yaml:"blocklist"`
	// MuteThreshold is how many filtered messages mark a player muted.
	MuteThreshold int `yaml:"mute_threshold"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, for tests and
// for running without a config file.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills in zero-valued fields
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Region == "" {
		cfg.Server.Region = "local"
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.TickInterval == 0 {
		cfg.Server.TickInterval = 100 * time.Millisecond
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 30 * time.Second
	}
	if cfg.Server.DrainGrace == 0 {
		cfg.Server.DrainGrace = 5 * time.Second
	}
	if cfg.Server.HandshakeRate == 0 {
		cfg.Server.HandshakeRate = 2
	}
	if cfg.Server.HandshakeBurst == 0 {
		cfg.Server.HandshakeBurst = 5
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/arena/arena.db"
	}
	if cfg.Database.RetryQueueSize == 0 {
		cfg.Database.RetryQueueSize = 256
	}
	if cfg.Database.RetryBase == 0 {
		cfg.Database.RetryBase = 250 * time.Millisecond
	}
	if cfg.Database.RetryMax == 0 {
		cfg.Database.RetryMax = 30 * time.Second
	}
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Sync.HistoryHorizon == 0 {
		cfg.Sync.HistoryHorizon = 32
	}
	if cfg.Sync.DeltaEpsilon == 0 {
		cfg.Sync.DeltaEpsilon = 1e-4
	}
	if cfg.Sync.QueueCapacity == 0 {
		cfg.Sync.QueueCapacity = 64
	}
	if cfg.Sync.CriticalCapacity == 0 {
		cfg.Sync.CriticalCapacity = 256
	}
	if cfg.Sync.LeaderboardInterval == 0 {
		cfg.Sync.LeaderboardInterval = 2 * time.Second
	}
	if cfg.Chat.MuteThreshold == 0 {
		cfg.Chat.MuteThreshold = 5
	}
}
