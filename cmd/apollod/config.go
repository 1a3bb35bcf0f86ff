package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon's configuration.
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	API           APIConfig           `mapstructure:"api"`
	Introspection IntrospectionConfig `mapstructure:"introspection"`
	Matcher       MatcherConfig       `mapstructure:"matcher"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// Console switches from JSON to the human console writer.
	Console bool `mapstructure:"console"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	// Migrations runs schema migrations on startup.
	Migrations bool `mapstructure:"migrations"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// APIConfig holds the public API server settings.
type APIConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// IntrospectionConfig holds the metrics/health server settings.
type IntrospectionConfig struct {
	Addr string `mapstructure:"addr"`
}

// MatcherConfig holds the background matcher settings.
type MatcherConfig struct {
	// Disable turns the background matcher off, leaving the process
	// API-only.
	Disable          bool          `mapstructure:"disable"`
	Interval         time.Duration `mapstructure:"interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	Grace            time.Duration `mapstructure:"grace"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency"`
	UpstreamVendor   string        `mapstructure:"upstream_vendor"`
	// ProductIDs restricts matching to these products when non-empty.
	ProductIDs []int64 `mapstructure:"product_ids"`
}

// LoadConfig reads configuration from an optional config.yaml and APOLLO_*
// environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/apollo")

	v.SetEnvPrefix("APOLLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "apollo")
	v.SetDefault("database.password", "apollo")
	v.SetDefault("database.database", "apollo")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.migrations", true)

	v.SetDefault("api.addr", "0.0.0.0:8080")
	v.SetDefault("api.read_timeout", "30s")
	v.SetDefault("api.write_timeout", "2m")

	v.SetDefault("introspection.addr", "0.0.0.0:8089")

	v.SetDefault("matcher.disable", false)
	v.SetDefault("matcher.interval", "6h")
	v.SetDefault("matcher.batch_size", 0)
	v.SetDefault("matcher.grace", "336h")
	v.SetDefault("matcher.fetch_concurrency", 4)
	v.SetDefault("matcher.upstream_vendor", "Red Hat")
}
