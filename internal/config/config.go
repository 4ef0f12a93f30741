// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates backplane configuration from a
// YAML file, environment variables, and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig is the root configuration for the backplane host.
type AppConfig struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Backends   []BackendConfig  `mapstructure:"backends"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"`
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds the receipt store connection settings.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// WorkerConfig holds supervision timing for sidecar worker processes.
type WorkerConfig struct {
	HelloTimeout      time.Duration `mapstructure:"hello_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StallWindow       time.Duration `mapstructure:"stall_window"`
	CancelGrace       time.Duration `mapstructure:"cancel_grace"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
}

// ProjectionConfig tunes backend selection.
type ProjectionConfig struct {
	SourceDialect   string   `mapstructure:"source_dialect"`
	MappingFeatures []string `mapstructure:"mapping_features"`
}

// BackendConfig declares one backend available for projection.
type BackendConfig struct {
	ID       string            `mapstructure:"id"`
	Kind     string            `mapstructure:"kind"` // "worker" or "mock"
	Dialect  string            `mapstructure:"dialect"`
	Priority uint32            `mapstructure:"priority"`
	Command  string            `mapstructure:"command"`
	Args     []string          `mapstructure:"args"`
	Env      map[string]string `mapstructure:"env"`
	Cwd      string            `mapstructure:"cwd"`
	// Capability names mapped to their support kind: "native",
	// "emulated", "restricted:<reason>", or "unsupported".
	Capabilities map[string]string `mapstructure:"capabilities"`
}

// NewConfig creates a new AppConfig by reading from a file, environment
// variables, and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/backplane/")
		v.AddConfigPath("$HOME/.backplane")
	}

	v.SetEnvPrefix("ABP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Missing config file is fine; defaults and env vars still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "INFO",
			Format: "json",
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/backplane.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 5,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
			},
			Levels: map[string]string{},
			Context: LogContextConfig{
				IncludeTimestamp: true,
			},
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8087,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "127.0.0.1",
			Port:     5432,
			Username: "backplane",
			Database: "backplane",
			SSLMode:  "disable",
		},
		Worker: WorkerConfig{
			HelloTimeout:      10 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			StallWindow:       30 * time.Second,
			CancelGrace:       5 * time.Second,
			RunTimeout:        30 * time.Minute,
		},
		Projection: ProjectionConfig{
			SourceDialect: "claude",
		},
		Backends: []BackendConfig{},
	}
}

// expandPaths expands ~ and environment variables in file paths.
func (c *AppConfig) expandPaths() {
	for i := range c.Log.Output {
		c.Log.Output[i].Path = expandPath(c.Log.Output[i].Path)
	}
	for i := range c.Backends {
		c.Backends[i].Cwd = expandPath(c.Backends[i].Cwd)
	}
}

func expandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker.heartbeat_interval must be positive")
	}
	if c.Worker.StallWindow < c.Worker.HeartbeatInterval {
		return errors.New("worker.stall_window must be at least worker.heartbeat_interval")
	}
	if c.Worker.CancelGrace <= 0 {
		return errors.New("worker.cancel_grace must be positive")
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return errors.New("backend id is required")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate backend id: %s", b.ID)
		}
		seen[b.ID] = true
		switch b.Kind {
		case "worker":
			if b.Command == "" {
				return fmt.Errorf("backend %s: command is required for worker backends", b.ID)
			}
		case "mock":
		default:
			return fmt.Errorf("backend %s: unknown kind %q", b.ID, b.Kind)
		}
	}

	return nil
}

// GetDSN returns the receipt store connection string.
func (dc *DatabaseConfig) GetDSN() string {
	switch dc.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
	default:
		return dc.Database
	}
}
