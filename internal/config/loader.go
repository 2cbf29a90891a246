package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file (or default locations when
// empty), layered over defaults, with BREWSYNC_* environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("brewsync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/brewsync")
		v.AddConfigPath("$HOME/.brewsync")
	}

	v.SetEnvPrefix("BREWSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file anywhere: defaults plus env is fine.
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("api.base_url", def.API.BaseURL)
	v.SetDefault("api.timeout", def.API.Timeout)
	v.SetDefault("api.max_retries", def.API.MaxRetries)
	v.SetDefault("api.user_agent", def.API.UserAgent)
	v.SetDefault("api.token_file", def.API.TokenFile)

	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.user_data_file", def.Storage.UserDataFile)
	v.SetDefault("storage.static_file", def.Storage.StaticFile)

	v.SetDefault("sync.batch_size", def.Sync.BatchSize)
	v.SetDefault("sync.max_concurrent", def.Sync.MaxConcurrent)
	v.SetDefault("sync.max_retries", def.Sync.MaxRetries)
	v.SetDefault("sync.retry_delay", def.Sync.RetryDelay)
	v.SetDefault("sync.max_retry_delay", def.Sync.MaxRetryDelay)
	v.SetDefault("sync.op_timeout", def.Sync.OpTimeout)
	v.SetDefault("sync.interval", def.Sync.Interval)
	v.SetDefault("sync.conflict_policy", def.Sync.ConflictPolicy)

	v.SetDefault("static.check_timeout", def.Static.CheckTimeout)
	v.SetDefault("static.fetch_timeout", def.Static.FetchTimeout)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
}
