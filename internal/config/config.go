package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/livinlefevreloca/originator/internal/apperrors"
	"github.com/livinlefevreloca/originator/internal/channel"
	"github.com/livinlefevreloca/originator/internal/db"
	"github.com/livinlefevreloca/originator/internal/hooks"
	"github.com/livinlefevreloca/originator/internal/logging"
	"github.com/livinlefevreloca/originator/internal/source"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvConnectionURL  = "ORIGINATOR_CONNECTION_URL"
	EnvFileServerHost = "ORIGINATOR_FILE_SERVER_HOST"
	EnvLogFile        = "ORIGINATOR_LOG_FILE"
	EnvLogLevel       = "ORIGINATOR_LOG_LEVEL"
)

// Config represents the application configuration
type Config struct {
	OriginatorLogFile string                 `toml:"originator_log_file" yaml:"originator_log_file" json:"originator_log_file"`
	Connection        channel.ConnectionInfo `toml:"connection" yaml:"connection" json:"connection"`
	Files             []string               `toml:"files" yaml:"files" json:"files"`
	Job               map[string]any         `toml:"job" yaml:"job" json:"job"`
	FileServer        source.FileServer      `toml:"file_server" yaml:"file_server" json:"file_server"`
	SyncExclude       []string               `toml:"sync_exclude" yaml:"sync_exclude" json:"sync_exclude"`
	Hooks             hooks.Config           `toml:"hooks" yaml:"hooks" json:"hooks"`
	Logging           logging.Config         `toml:"logging" yaml:"logging" json:"logging"`
	Metrics           MetricsConfig          `toml:"metrics" yaml:"metrics" json:"metrics"`
	History           db.Config              `toml:"history" yaml:"history" json:"history"`
	Inbox             InboxConfig            `toml:"inbox" yaml:"inbox" json:"inbox"`
	ShowProgress      bool                   `toml:"show_progress" yaml:"show_progress" json:"show_progress"`
	CancelTimeout     Duration               `toml:"cancel_timeout" yaml:"cancel_timeout" json:"cancel_timeout"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled" json:"enabled"`
	Address string `toml:"address" yaml:"address" json:"address"`
	Port    int    `toml:"port" yaml:"port" json:"port"`
}

// InboxConfig sizes the hand-off between the channel consumer and the run loop.
type InboxConfig struct {
	BufferSize  int      `toml:"buffer_size" yaml:"buffer_size" json:"buffer_size"`
	SendTimeout Duration `toml:"send_timeout" yaml:"send_timeout" json:"send_timeout"`
}

// Duration is a time.Duration written as a string such as "5s" in every
// supported file format.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OriginatorLogFile: logging.Stdout,
		Connection: channel.ConnectionInfo{
			Host:           "localhost",
			Port:           5672,
			User:           "guest",
			Password:       "guest",
			VHost:          "/",
			ConnectRetries: 3,
		},
		Job: map[string]any{},
		FileServer: source.FileServer{
			Port:  source.DefaultPort,
			Mount: source.DefaultMount,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1",
			Port:    9464,
		},
		History: db.Config{
			Enabled:      false,
			Driver:       "sqlite3",
			DSN:          "originator.db",
			MaxOpenConns: 1,
		},
		Inbox: InboxConfig{
			BufferSize: 1024,
		},
		ShowProgress:  true,
		CancelTimeout: Duration{10 * time.Second},
	}
}

// LoadFromFile loads configuration from a TOML, YAML or JSON file, chosen by
// extension.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, apperrors.Configuration(fmt.Sprintf("config file does not exist: %s", path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, apperrors.Configuration(fmt.Sprintf("unsupported config format: %s (must be .toml, .yaml, .yml or .json)", path))
	}
	if err != nil {
		return nil, apperrors.Configuration(fmt.Sprintf("failed to parse config file %s: %v", path, err))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// LoadEnv seeds the process environment from a dotenv file. A missing file is
// not an error; variables already set are left alone.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return apperrors.Configuration(fmt.Sprintf("failed to load env file %s: %v", path, err))
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvConnectionURL); ok && v != "" {
		c.Connection.URL = v
	}
	if v, ok := lookup(EnvFileServerHost); ok && v != "" {
		c.FileServer.Host = v
	}
	if v, ok := lookup(EnvLogFile); ok && v != "" {
		c.OriginatorLogFile = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// LoggingConfig returns the logging settings with the log file applied.
func (c *Config) LoggingConfig() logging.Config {
	cfg := c.Logging
	cfg.File = c.OriginatorLogFile
	return cfg
}

// Validate checks if the configuration is valid. An empty file list and a
// missing file server host are reported later by the run itself.
func (c *Config) Validate() error {
	if c.Connection.URL == "" && c.Connection.Host == "" {
		return apperrors.Configuration("connection requires either url or host")
	}
	if c.Connection.Port < 0 || c.Connection.Port > 65535 {
		return apperrors.Configuration("connection port must be between 1 and 65535")
	}
	if c.Connection.ConnectRetries < 0 {
		return apperrors.Configuration("connection connect_retries must not be negative")
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return apperrors.Configuration("metrics port must be between 1 and 65535")
		}
	}

	if c.History.Enabled {
		if c.History.Driver != "sqlite3" {
			return apperrors.Configuration(fmt.Sprintf("unsupported history driver: %s (must be sqlite3)", c.History.Driver))
		}
		if c.History.DSN == "" {
			return apperrors.Configuration("history dsn must be specified")
		}
	}

	if c.Inbox.BufferSize <= 0 {
		return apperrors.Configuration("inbox buffer_size must be positive")
	}
	if c.Inbox.SendTimeout.Duration < 0 {
		return apperrors.Configuration("inbox send_timeout must not be negative")
	}
	if c.CancelTimeout.Duration <= 0 {
		return apperrors.Configuration("cancel_timeout must be positive")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return apperrors.Configuration(err.Error())
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return apperrors.Configuration(fmt.Sprintf("invalid log format: %s (must be text or json)", c.Logging.Format))
	}

	return nil
}
