// Package config loads and validates server configuration with viper from a
// YAML or JSON file plus SAWITDB_* environment overrides.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

type WALConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	SyncMode           string `mapstructure:"sync_mode"` // always | commit | never
	CheckpointInterval int    `mapstructure:"checkpoint_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AuthConfig struct {
	// Users maps username to "salt:hash" (SHA-256, hex). Empty map disables
	// authentication.
	Users map[string]string `mapstructure:"users"`
}

type Config struct {
	Host           string     `mapstructure:"host"`
	Port           int        `mapstructure:"port"`
	DataDir        string     `mapstructure:"data_dir"`
	MaxConnections int        `mapstructure:"max_connections"`
	QueryTimeoutMs int        `mapstructure:"query_timeout_ms"`
	WorkerCount    int        `mapstructure:"worker_count"`
	Audit          bool       `mapstructure:"audit"`
	WAL            WALConfig  `mapstructure:"wal"`
	Log            LogConfig  `mapstructure:"log"`
	Auth           AuthConfig `mapstructure:"auth"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Host:           "127.0.0.1",
		Port:           7530,
		DataDir:        "./data",
		MaxConnections: 100,
		QueryTimeoutMs: 30000,
		WorkerCount:    runtime.NumCPU(),
		WAL: WALConfig{
			Enabled:            true,
			SyncMode:           "commit",
			CheckpointInterval: 1000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (optional) over the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("host", def.Host)
	v.SetDefault("port", def.Port)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("max_connections", def.MaxConnections)
	v.SetDefault("query_timeout_ms", def.QueryTimeoutMs)
	v.SetDefault("worker_count", def.WorkerCount)
	v.SetDefault("wal.enabled", def.WAL.Enabled)
	v.SetDefault("wal.sync_mode", def.WAL.SyncMode)
	v.SetDefault("wal.checkpoint_interval", def.WAL.CheckpointInterval)
	v.SetDefault("log.level", def.Log.Level)

	v.SetEnvPrefix("SAWITDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with. Callers exit
// with status 2 on error.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("config: max_connections must be positive")
	}
	if c.QueryTimeoutMs < 1 {
		return fmt.Errorf("config: query_timeout_ms must be positive")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("config: worker_count must be positive")
	}
	switch c.WAL.SyncMode {
	case "always", "commit", "never":
	default:
		return fmt.Errorf("config: wal.sync_mode %q (want always, commit or never)", c.WAL.SyncMode)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q (want debug, info, warn or error)", c.Log.Level)
	}
	for user, cred := range c.Auth.Users {
		if user == "" || cred == "" {
			return fmt.Errorf("config: auth user entries must be non-empty")
		}
	}
	return nil
}
