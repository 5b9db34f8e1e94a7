// Package config provides configuration management for dvrr using Viper.
// It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8090
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultNotificationSize = 10 * 1024
	defaultSegmentSize      = ByteSize(1 << 30) // 1GB
	defaultBlockSize        = 256 * 1024
	defaultDiskWatermark    = 95.0
	defaultJanitorCron      = "0 0 3 * * *"
	defaultJanitorRetention = 30 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Record   RecordConfig   `mapstructure:"record"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

// ServerConfig holds HTTP control API configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds segment metadata database configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds segment storage configuration.
type StorageConfig struct {
	// BaseDir is the root under which recording locations live.
	BaseDir string `mapstructure:"base_dir"`
	// DiskWatermark refuses new recordings once the volume holding
	// BaseDir is fuller than this percentage.
	DiskWatermark float64 `mapstructure:"disk_watermark"`
	// Sidecars writes per-segment YAML metadata next to each segment
	// file so a location stays readable without the database.
	Sidecars bool `mapstructure:"sidecars"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RecordConfig holds recording defaults applied when a session's open
// parameters leave them unset.
type RecordConfig struct {
	// NotificationSize is how many bytes the recorder writes between
	// status events.
	NotificationSize ByteSize `mapstructure:"notification_size"`
	// SegmentSize is the default rollover threshold per segment.
	SegmentSize ByteSize `mapstructure:"segment_size"`
	// MaxTime bounds a recording; zero means unbounded.
	MaxTime Duration `mapstructure:"max_time"`
	// MaxSize bounds a recording; zero means unbounded.
	MaxSize ByteSize `mapstructure:"max_size"`
}

// PlaybackConfig holds playback defaults.
type PlaybackConfig struct {
	BlockSize ByteSize `mapstructure:"block_size"`
}

// JanitorConfig holds the scheduled cleanup configuration.
type JanitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron is a 6-field cron expression (default: daily at 3 AM).
	Cron string `mapstructure:"cron"`
	// Retention removes recordings untouched for longer than this.
	Retention Duration `mapstructure:"retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with DVRR_, using underscores for nesting: DVRR_SERVER_PORT.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dvrr")
		v.AddConfigPath("$HOME/.dvrr")
	}

	v.SetEnvPrefix("DVRR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine - defaults plus env vars apply.
	}

	var cfg Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Call before reading the config file so unset keys resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "dvrr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.disk_watermark", defaultDiskWatermark)
	v.SetDefault("storage.sidecars", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("record.notification_size", int64(defaultNotificationSize))
	v.SetDefault("record.segment_size", int64(defaultSegmentSize))
	v.SetDefault("record.max_time", "0s")
	v.SetDefault("record.max_size", int64(0))

	v.SetDefault("playback.block_size", int64(defaultBlockSize))

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.cron", defaultJanitorCron)
	v.SetDefault("janitor.retention", defaultJanitorRetention)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.DiskWatermark <= 0 || c.Storage.DiskWatermark > 100 {
		return fmt.Errorf("storage.disk_watermark must be in (0, 100]")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Record.NotificationSize <= 0 {
		return fmt.Errorf("record.notification_size must be positive")
	}
	if c.Playback.BlockSize <= 0 {
		return fmt.Errorf("playback.block_size must be positive")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
