package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/document"
	"github.com/Iron-Ham/pairpad/internal/logging"
	"github.com/Iron-Ham/pairpad/internal/session"
)

// Config represents the complete pairpad configuration
type Config struct {
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Document  DocumentConfig  `mapstructure:"document" yaml:"document"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" yaml:"broadcast"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// SessionConfig holds the settings new sessions start from
type SessionConfig struct {
	// AutoSave persists a session after every mutation (default: true)
	AutoSave bool `mapstructure:"auto_save" yaml:"auto_save"`
	// ConflictResolution is the default policy: "auto", "manual", or "user_choice"
	ConflictResolution string `mapstructure:"conflict_resolution" yaml:"conflict_resolution"`
	// MaxParticipants caps the roster size (default: 10)
	MaxParticipants int `mapstructure:"max_participants" yaml:"max_participants"`
	// TimeoutMinutes is the idle time after which a session may be expired (0 = never)
	TimeoutMinutes int `mapstructure:"timeout_minutes" yaml:"timeout_minutes"`
	// AllowDisjointMerge accepts stale changes that overlap nothing committed since
	AllowDisjointMerge bool `mapstructure:"allow_disjoint_merge" yaml:"allow_disjoint_merge"`
	// ReadOnlyPatterns are path globs nobody may edit, e.g. "vendor/**"
	ReadOnlyPatterns []string `mapstructure:"read_only_patterns" yaml:"read_only_patterns"`
}

// DocumentConfig controls per-file bookkeeping
type DocumentConfig struct {
	// OpLogSize is the number of commits kept per file for conflict detection (default: 100)
	OpLogSize int `mapstructure:"op_log_size" yaml:"op_log_size"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Enabled controls whether logs are written at all (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where pairpad.log is written. Empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// StoreConfig selects where session snapshots are persisted
type StoreConfig struct {
	// Kind is "memory" or "file" (default: "memory")
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Dir is the root of the file store. Supports ~. Relative paths resolve
	// against the working directory. Empty means ".pairpad".
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// BroadcastConfig selects how session events leave the engine
type BroadcastConfig struct {
	// Kind is "local" (in-process bus) or "redis" (default: "local")
	Kind string `mapstructure:"kind" yaml:"kind"`
	// RedisAddr is the host:port of the Redis server (default: "localhost:6379")
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	// RedisDB selects the Redis logical database (default: 0)
	RedisDB int `mapstructure:"redis_db" yaml:"redis_db"`
	// ChannelPrefix prefixes per-session channels (default: "pairpad")
	ChannelPrefix string `mapstructure:"channel_prefix" yaml:"channel_prefix"`
	// PublishTimeoutMs bounds each Redis publish (default: 500)
	PublishTimeoutMs int `mapstructure:"publish_timeout_ms" yaml:"publish_timeout_ms"`
}

// MetricsConfig controls Prometheus instrumentation
type MetricsConfig struct {
	// Enabled registers engine collectors (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			AutoSave:           true,
			ConflictResolution: string(conflict.PolicyUserChoice),
			MaxParticipants:    10,
			TimeoutMinutes:     60,
			AllowDisjointMerge: false,
			ReadOnlyPatterns:   []string{},
		},
		Document: DocumentConfig{
			OpLogSize: document.DefaultLogSize,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Store: StoreConfig{
			Kind: "memory",
			Dir:  "",
		},
		Broadcast: BroadcastConfig{
			Kind:             "local",
			RedisAddr:        "localhost:6379",
			RedisDB:          0,
			ChannelPrefix:    "pairpad",
			PublishTimeoutMs: 500,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Timeout returns the idle timeout as a time.Duration (0 means never)
func (c *SessionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Settings converts the session section and the document log size into the
// engine's default session settings.
func (c *Config) Settings() session.Settings {
	autoSave := c.Session.AutoSave
	return session.Settings{
		AutoSave:           &autoSave,
		ConflictResolution: conflict.Policy(c.Session.ConflictResolution),
		MaxParticipants:    c.Session.MaxParticipants,
		SessionTimeout:     c.Session.Timeout(),
		OpLogSize:          c.Document.OpLogSize,
		AllowDisjointMerge: c.Session.AllowDisjointMerge,
		ReadOnlyPatterns:   c.Session.ReadOnlyPatterns,
	}
}

// Rotation returns the log rotation settings
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// PublishTimeout returns the Redis publish bound as a time.Duration
func (c *BroadcastConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMs) * time.Millisecond
}

// ResolveDir returns the file store root.
// If Dir is empty, it returns ".pairpad" under baseDir.
// If Dir starts with ~, it expands to the user's home directory.
// If Dir is a relative path, it's resolved relative to baseDir.
func (c *StoreConfig) ResolveDir(baseDir string) string {
	if c.Dir == "" {
		return filepath.Join(baseDir, ".pairpad")
	}

	path := c.Dir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Session defaults
	viper.SetDefault("session.auto_save", defaults.Session.AutoSave)
	viper.SetDefault("session.conflict_resolution", defaults.Session.ConflictResolution)
	viper.SetDefault("session.max_participants", defaults.Session.MaxParticipants)
	viper.SetDefault("session.timeout_minutes", defaults.Session.TimeoutMinutes)
	viper.SetDefault("session.allow_disjoint_merge", defaults.Session.AllowDisjointMerge)
	viper.SetDefault("session.read_only_patterns", defaults.Session.ReadOnlyPatterns)

	// Document defaults
	viper.SetDefault("document.op_log_size", defaults.Document.OpLogSize)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Store defaults
	viper.SetDefault("store.kind", defaults.Store.Kind)
	viper.SetDefault("store.dir", defaults.Store.Dir)

	// Broadcast defaults
	viper.SetDefault("broadcast.kind", defaults.Broadcast.Kind)
	viper.SetDefault("broadcast.redis_addr", defaults.Broadcast.RedisAddr)
	viper.SetDefault("broadcast.redis_db", defaults.Broadcast.RedisDB)
	viper.SetDefault("broadcast.channel_prefix", defaults.Broadcast.ChannelPrefix)
	viper.SetDefault("broadcast.publish_timeout_ms", defaults.Broadcast.PublishTimeoutMs)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pairpad")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pairpad"
	}
	return filepath.Join(home, ".config", "pairpad")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
