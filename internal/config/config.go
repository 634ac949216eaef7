// Package config provides configuration management for the retrieval service.
// Values load from a yaml file plus environment overrides and are validated
// before the application wires any component.
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Common configuration errors.
var (
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// ServiceConfig holds the connection settings of an external inference
// service (embedding or reranking).
type ServiceConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model" validate:"required"`
}

// SegmentationConfig bounds the hierarchical segmenter. Zero values fall back
// to the design defaults; out-of-range values are rejected rather than
// clamped so misconfiguration is visible at startup.
type SegmentationConfig struct {
	MaxLength  int `mapstructure:"max_length"`
	MinOverlap int `mapstructure:"min_overlap"`
}

// Validate checks the segmentation configuration and sets defaults.
func (c *SegmentationConfig) Validate() error {
	if c.MaxLength == 0 {
		c.MaxLength = 1000
	}
	if c.MinOverlap == 0 {
		c.MinOverlap = 50
	}
	if c.MaxLength < 100 || c.MaxLength > 8000 {
		return fmt.Errorf("%w: segmentation max_length must be in [100, 8000]", ErrInvalidConfig)
	}
	if c.MinOverlap < 0 || c.MinOverlap >= c.MaxLength {
		return fmt.Errorf("%w: segmentation min_overlap must be in [0, max_length)", ErrInvalidConfig)
	}
	return nil
}

// Config represents the complete application configuration.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Database struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Redis struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	MinIO struct {
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		BucketName      string `mapstructure:"bucket_name"`
		UseSSL          bool   `mapstructure:"use_ssl"`
	} `mapstructure:"minio"`

	Services struct {
		Embedding ServiceConfig `mapstructure:"embedding"`
		Reranker  ServiceConfig `mapstructure:"reranker"`
	} `mapstructure:"services"`

	Segmentation SegmentationConfig `mapstructure:"segmentation"`

	Search struct {
		// LogQueries toggles the best-effort audit trail of search requests.
		LogQueries bool `mapstructure:"log_queries"`
	} `mapstructure:"search"`

	Sweeper struct {
		IntervalHours int `mapstructure:"interval_hours"`
	} `mapstructure:"sweeper"`
}

// DatabaseURL assembles the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// Validate performs configuration validation and sets defaults.
func (c *Config) Validate() error {
	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}
	if c.Sweeper.IntervalHours < 0 {
		return fmt.Errorf("%w: sweeper interval_hours cannot be negative", ErrInvalidConfig)
	}
	if c.Sweeper.IntervalHours == 0 {
		c.Sweeper.IntervalHours = 24
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	return nil
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults configures sensible default values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("minio.use_ssl", false)

	viper.SetDefault("segmentation.max_length", 1000)
	viper.SetDefault("segmentation.min_overlap", 50)

	viper.SetDefault("search.log_queries", true)
	viper.SetDefault("sweeper.interval_hours", 24)
}

// MustLoadConfig loads configuration and panics on failure. Use only from
// main or init paths where a bad configuration should be fatal.
func MustLoadConfig(configPath string) *Config {
	config, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return config
}
