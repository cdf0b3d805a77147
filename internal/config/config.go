package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"courtside/internal/models"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Availability AvailabilityConfig `yaml:"availability"`
	Cache        CacheConfig        `yaml:"cache"`
	Redis        RedisConfig        `yaml:"redis"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// ServerConfig points the client at the reservation server.
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
}

type AvailabilityConfig struct {
	Staleness       time.Duration `yaml:"staleness"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FetchRetries    int           `yaml:"fetch_retries" validate:"gte=0,lte=10"`
}

type CacheConfig struct {
	// Path is the sqlite file backing the persistent on-device cache.
	// Empty disables persistence; the memory layer still runs.
	Path   string        `yaml:"path"`
	MaxAge time.Duration `yaml:"max_age"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars referenced from YAML may come from anywhere.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Availability.Staleness > c.Cache.MaxAge {
		return fmt.Errorf("availability.staleness %s exceeds cache.max_age %s", c.Availability.Staleness, c.Cache.MaxAge)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "courtside"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = models.DefaultRequestTimeout
	}
	if c.Server.RPS <= 0 {
		c.Server.RPS = 5
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 10
	}
	if c.Availability.Staleness <= 0 {
		c.Availability.Staleness = models.DefaultStaleness
	}
	if c.Availability.RefreshInterval <= 0 {
		c.Availability.RefreshInterval = models.DefaultRefreshInterval
	}
	if c.Availability.FetchRetries <= 0 {
		c.Availability.FetchRetries = models.DefaultFetchRetries
	}
	if c.Cache.MaxAge <= 0 {
		c.Cache.MaxAge = models.DefaultCacheMaxAge
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 10
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
