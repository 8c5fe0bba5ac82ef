// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Watch    WatchConfig    `mapstructure:"watch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PipelineConfig holds batch processing configuration.
type PipelineConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	StagingDir     string        `mapstructure:"staging_dir"`
	OutputDir      string        `mapstructure:"output_dir"`
	SaveSCL        bool          `mapstructure:"save_scl"`
	MinFreeSpace   uint64        `mapstructure:"min_free_space"` // bytes, 0 disables the guard
}

// ArchiveConfig holds product archive configuration.
type ArchiveConfig struct {
	Type            string        `mapstructure:"type"` // cdse, mirror
	CredentialsFile string        `mapstructure:"credentials_file"`
	TokenURL        string        `mapstructure:"token_url"`
	ClientID        string        `mapstructure:"client_id"`
	CatalogueURL    string        `mapstructure:"catalogue_url"`
	DownloadURL     string        `mapstructure:"download_url"`
	Mirror          MirrorConfig  `mapstructure:"mirror"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
}

// MirrorConfig holds HTTP mirror configuration.
type MirrorConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// PublishConfig holds mosaic publishing configuration.
type PublishConfig struct {
	Type  string      `mapstructure:"type"` // none, local, s3, azure
	Path  string      `mapstructure:"path"`
	S3    S3Config    `mapstructure:"s3"`
	Azure AzureConfig `mapstructure:"azure"`
}

// Enabled returns true if mosaics are published beyond the output directory.
func (c *PublishConfig) Enabled() bool {
	return c.Type != "" && c.Type != "none"
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// LedgerConfig holds batch history configuration.
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Path     string `mapstructure:"path"`
	Textfile string `mapstructure:"textfile"` // node exporter textfile written after each batch
}

// WatchConfig holds watch mode configuration.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Pipeline defaults
	viper.SetDefault("pipeline.workers", 4)
	viper.SetDefault("pipeline.max_attempts", 5)
	viper.SetDefault("pipeline.retry_delay", 15*time.Second)
	viper.SetDefault("pipeline.attempt_timeout", 2*time.Hour)
	viper.SetDefault("pipeline.staging_dir", "./staging")
	viper.SetDefault("pipeline.output_dir", "./mosaics")
	viper.SetDefault("pipeline.save_scl", false)
	viper.SetDefault("pipeline.min_free_space", uint64(0))

	// Archive defaults
	viper.SetDefault("archive.type", "cdse")
	viper.SetDefault("archive.credentials_file", "./credentials.yaml")
	viper.SetDefault("archive.token_url", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token")
	viper.SetDefault("archive.client_id", "cdse-public")
	viper.SetDefault("archive.catalogue_url", "https://catalogue.dataspace.copernicus.eu/odata/v1")
	viper.SetDefault("archive.download_url", "https://zipper.dataspace.copernicus.eu/odata/v1")
	viper.SetDefault("archive.timeout", 2*time.Hour)
	viper.SetDefault("archive.rate_limit", 0.0)

	// Publish defaults
	viper.SetDefault("publish.type", "none")

	// Ledger defaults
	viper.SetDefault("ledger.enabled", false)
	viper.SetDefault("ledger.path", "./s2mosaic.db")

	// Server defaults
	viper.SetDefault("server.enabled", false)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 9090)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.textfile", "")

	// Watch defaults
	viper.SetDefault("watch.debounce", 2*time.Second)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("S2MOSAIC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/s2mosaic")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d", p.Workers)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("invalid max attempts: %d", p.MaxAttempts)
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("invalid retry delay: %s", p.RetryDelay)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("invalid attempt timeout: %s", p.AttemptTimeout)
	}

	switch c.Archive.Type {
	case "cdse":
	case "mirror":
		if c.Archive.Mirror.BaseURL == "" {
			return fmt.Errorf("mirror base URL is required")
		}
	default:
		return fmt.Errorf("unknown archive type: %s", c.Archive.Type)
	}
	if c.Archive.RateLimit < 0 {
		return fmt.Errorf("invalid archive rate limit: %v", c.Archive.RateLimit)
	}

	switch c.Publish.Type {
	case "", "none":
	case "local":
		if c.Publish.Path == "" {
			return fmt.Errorf("local publish path is required")
		}
	case "s3":
		if c.Publish.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Publish.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Publish.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Publish.Azure.AccountName == "" && c.Publish.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	default:
		return fmt.Errorf("unknown publish type: %s", c.Publish.Type)
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
