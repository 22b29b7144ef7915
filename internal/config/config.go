// Package config provides configuration loading and validation for the
// carbonplane server and jobs.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidPort     = errors.New("invalid server port")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidStorage  = errors.New("unknown storage backend")
	ErrMissingBucket   = errors.New("backup bucket is required when the s3 sink is enabled")
)

// Default configuration values.
const (
	defaultPort           = 8080
	defaultHost           = "0.0.0.0"
	defaultTimezone       = "UTC"
	defaultJobTimeout     = 30 * time.Minute
	defaultAlertThreshold = 24 * time.Hour
	maxPort               = 65535
)

// Storage backend names.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all configuration for the carbonplane server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Bus       BusConfig       `mapstructure:"bus"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	Port         int           `mapstructure:"port"`
}

// StorageConfig selects and parameterises the document store.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`

	// DSN is the pgx connection string for the postgres backend.
	DSN string `mapstructure:"dsn"`
}

// BusConfig holds the NATS publisher settings. An empty URL selects the
// in-process publisher.
type BusConfig struct {
	URL string `mapstructure:"url"`

	// SubjectPrefix overrides the default "carbon" subject root.
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// RedisConfig holds the alert-dedupe store settings. An empty address
// selects the in-process dedupe window.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulerConfig holds the periodic-job settings.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Timezone is the IANA zone every period boundary and cron trigger is
	// evaluated in.
	Timezone string `mapstructure:"timezone"`

	JobTimeout time.Duration `mapstructure:"job_timeout"`

	// AlertThreshold is the grace period added to a stream's due instant
	// before the overdue detector fires.
	AlertThreshold time.Duration `mapstructure:"alert_threshold"`
}

// BackupConfig holds the snapshot sink settings.
type BackupConfig struct {
	// Sink is "file" or "s3".
	Sink      string `mapstructure:"sink"`
	Directory string `mapstructure:"directory"`

	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Prefix   string `mapstructure:"s3_prefix"`

	// Compression is "gzip" or "lz4".
	Compression string `mapstructure:"compression"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(".carbonplane")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME")
		viperCfg.AddConfigPath("/etc/carbonplane")
	}

	viperCfg.SetEnvPrefix("CARBONPLANE")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viperCfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configPath != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", defaultHost)
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("storage.backend", StorageMemory)

	v.SetDefault("bus.subject_prefix", "carbon")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timezone", defaultTimezone)
	v.SetDefault("scheduler.job_timeout", defaultJobTimeout)
	v.SetDefault("scheduler.alert_threshold", defaultAlertThreshold)

	v.SetDefault("backup.sink", "file")
	v.SetDefault("backup.directory", "./backups")
	v.SetDefault("backup.compression", "gzip")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}

	switch c.Storage.Backend {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStorage, c.Storage.Backend)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Scheduler.Timezone)
	}

	if c.Backup.Sink == "s3" && c.Backup.S3Bucket == "" {
		return ErrMissingBucket
	}

	return nil
}

// Location resolves the configured IANA timezone. Validate has already
// checked it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}
