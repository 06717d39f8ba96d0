// Package config provides configuration management for the application.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig
	Cerebras  ProviderConfig
	SambaNova ProviderConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Metrics   MetricsConfig
	LogFormat string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	// SiteURL is the public base URL used to compose deployed endpoint URLs.
	SiteURL string
	// MasterKey protects the management API. Empty disables auth (unsafe mode).
	MasterKey string
}

// ProviderConfig holds credentials for one inference provider.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

// StorageConfig selects and configures the database backend.
type StorageConfig struct {
	// Type is "sqlite" or "postgresql".
	Type string
	// SQLitePath is the database file path for the sqlite backend.
	SQLitePath string
	// PostgresURL is the connection string for the postgresql backend.
	PostgresURL string
}

// CacheConfig selects the deployment-config cache backend.
type CacheConfig struct {
	// Type is "local" or "redis".
	Type string
	// RedisURL is the connection string for the redis backend.
	RedisURL string
	// TTLSeconds bounds how long a cached deployment config is served.
	TTLSeconds int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // .env is optional

	viper.SetDefault("PORT", "3000")
	viper.SetDefault("SITE_URL", "http://localhost:3000")
	viper.SetDefault("STORAGE_TYPE", "sqlite")
	viper.SetDefault("SQLITE_PATH", "data/aibuilder.db")
	viper.SetDefault("CACHE_TYPE", "local")
	viper.SetDefault("CACHE_TTL_SECONDS", 30)
	viper.SetDefault("METRICS_ENABLED", false)
	viper.SetDefault("METRICS_ENDPOINT", "/metrics")
	viper.SetDefault("LOG_FORMAT", "json")

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("PORT"),
			SiteURL:   viper.GetString("SITE_URL"),
			MasterKey: viper.GetString("MASTER_KEY"),
		},
		Cerebras: ProviderConfig{
			APIKey:  viper.GetString("CEREBRAS_API_KEY"),
			BaseURL: viper.GetString("CEREBRAS_BASE_URL"),
		},
		SambaNova: ProviderConfig{
			APIKey:  viper.GetString("SAMBANOVA_API_KEY"),
			BaseURL: viper.GetString("SAMBANOVA_BASE_URL"),
		},
		Storage: StorageConfig{
			Type:        viper.GetString("STORAGE_TYPE"),
			SQLitePath:  viper.GetString("SQLITE_PATH"),
			PostgresURL: viper.GetString("POSTGRES_URL"),
		},
		Cache: CacheConfig{
			Type:       viper.GetString("CACHE_TYPE"),
			RedisURL:   viper.GetString("REDIS_URL"),
			TTLSeconds: viper.GetInt("CACHE_TTL_SECONDS"),
		},
		Metrics: MetricsConfig{
			Enabled:  viper.GetBool("METRICS_ENABLED"),
			Endpoint: viper.GetString("METRICS_ENDPOINT"),
		},
		LogFormat: viper.GetString("LOG_FORMAT"),
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration can actually serve requests.
// Provider keys are required up front: the system cannot dispatch to a
// provider without credentials, and failing at startup beats failing on
// the first deployed request.
func (c *Config) Validate() error {
	if c.Cerebras.APIKey == "" {
		return fmt.Errorf("CEREBRAS_API_KEY environment variable is required")
	}
	if c.SambaNova.APIKey == "" {
		return fmt.Errorf("SAMBANOVA_API_KEY environment variable is required")
	}
	switch c.Storage.Type {
	case "sqlite", "postgresql":
	default:
		return fmt.Errorf("unknown storage type: %s (valid: sqlite, postgresql)", c.Storage.Type)
	}
	switch c.Cache.Type {
	case "local", "redis":
	default:
		return fmt.Errorf("unknown cache type: %s (valid: local, redis)", c.Cache.Type)
	}
	return nil
}
