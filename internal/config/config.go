package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Static  StaticConfig  `mapstructure:"static"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent"`
	TokenFile  string        `mapstructure:"token_file"`
}

// StorageConfig for local durable namespaces. User data and static data live
// in separate database files so either can be cleared without the other.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	UserDataFile string `mapstructure:"user_data_file"`
	StaticFile   string `mapstructure:"static_file"`
}

// UserDataPath returns the user-data database path for a user.
func (s *StorageConfig) UserDataPath(userID string) string {
	name := s.UserDataFile
	if name == "" {
		name = "userdata.db"
	}
	return filepath.Join(s.DataDir, userID+"-"+name)
}

// StaticPath returns the shared static-data database path.
func (s *StorageConfig) StaticPath() string {
	name := s.StaticFile
	if name == "" {
		name = "static.db"
	}
	return filepath.Join(s.DataDir, name)
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`     // ops drained per cycle
	MaxConcurrent int           `mapstructure:"max_concurrent"` // cross-entity parallelism
	MaxRetries    int           `mapstructure:"max_retries"`    // per-operation retry budget
	RetryDelay    time.Duration `mapstructure:"retry_delay"`    // initial backoff
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	OpTimeout     time.Duration `mapstructure:"op_timeout"` // per network call
	Interval      time.Duration `mapstructure:"interval"`   // periodic sync while connected

	// ConflictPolicy picks the default strategy when local and remote
	// diverge: local_wins, remote_wins, or manual. Manual parks the record
	// for the user to resolve.
	ConflictPolicy string `mapstructure:"conflict_policy"`
}

// StaticConfig for reference-data caching.
type StaticConfig struct {
	CheckTimeout time.Duration `mapstructure:"check_timeout"` // version probe
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"` // full dataset fetch
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // text, json
	File       string `mapstructure:"file"`   // empty means stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Default returns config with sensible defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:    "https://api.brewvault.io",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			UserAgent:  "brewsync",
			TokenFile:  filepath.Join(".brewsync", "token"),
		},
		Storage: StorageConfig{
			DataDir:      ".brewsync",
			UserDataFile: "userdata.db",
			StaticFile:   "static.db",
		},
		Sync: SyncConfig{
			BatchSize:      50,
			MaxConcurrent:  4,
			MaxRetries:     5,
			RetryDelay:     time.Second,
			MaxRetryDelay:  time.Minute,
			OpTimeout:      15 * time.Second,
			Interval:       5 * time.Minute,
			ConflictPolicy: "manual",
		},
		Static: StaticConfig{
			CheckTimeout: 10 * time.Second,
			FetchTimeout: time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.MaxConcurrent <= 0 {
		return fmt.Errorf("sync.max_concurrent must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return fmt.Errorf("sync.max_retries cannot be negative")
	}
	if c.Sync.RetryDelay <= 0 {
		return fmt.Errorf("sync.retry_delay must be positive")
	}
	if c.Sync.MaxRetryDelay < c.Sync.RetryDelay {
		return fmt.Errorf("sync.max_retry_delay must be >= sync.retry_delay")
	}
	switch c.Sync.ConflictPolicy {
	case "local_wins", "remote_wins", "manual":
	default:
		return fmt.Errorf("sync.conflict_policy must be local_wins, remote_wins, or manual")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}
