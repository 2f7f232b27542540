package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults make every scalar key known to viper, which is what lets
	// AutomaticEnv overrides reach Unmarshal.
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("engine.max_concurrent_tasks", 4)
	v.SetDefault("engine.max_queue_size", 100)
	v.SetDefault("engine.default_timeout", "30s")
	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.retry_base_delay", "100ms")
	v.SetDefault("engine.retry_max_delay", "10s")
	v.SetDefault("engine.cleanup_interval", "1m")
	v.SetDefault("engine.retention_window", "5m")
	v.SetDefault("engine.backoff", "linear")
	v.SetDefault("engine.dispatch_rate", 0)
	v.SetDefault("engine.dispatch_burst", 0)

	// An optional config.yaml in the working directory; absence is fine.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Environment variables use the TASKENGINE_ prefix with underscores
	// for nesting, e.g. TASKENGINE_SERVER_PORT=9090.
	v.SetEnvPrefix("TASKENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
