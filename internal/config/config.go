package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig     `mapstructure:"server" validate:"required"`
	Engine    EngineConfig     `mapstructure:"engine" validate:"required"`
	Schedules []ScheduleConfig `mapstructure:"schedules" validate:"omitempty,dive"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// EngineConfig contains the task engine tuning settings.
type EngineConfig struct {
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks" validate:"required,gt=0"`
	MaxQueueSize       int           `mapstructure:"max_queue_size" validate:"required,gt=0"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout" validate:"gt=0"`
	DefaultMaxRetries  int           `mapstructure:"default_max_retries" validate:"gte=0"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay" validate:"gt=0"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay" validate:"gte=0"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
	RetentionWindow    time.Duration `mapstructure:"retention_window" validate:"gt=0"`

	// Backoff picks the retry delay strategy.
	Backoff string `mapstructure:"backoff" validate:"required,oneof=linear exponential jittered decorrelated"`

	// DispatchRate throttles task starts per second; zero disables the
	// limiter. DispatchBurst is the limiter's burst size.
	DispatchRate  float64 `mapstructure:"dispatch_rate" validate:"gte=0"`
	DispatchBurst int     `mapstructure:"dispatch_burst" validate:"gte=0"`
}

// ScheduleConfig declares one recurring job. Schedules come from the
// config file; environment variables cannot define list entries.
type ScheduleConfig struct {
	Name     string         `mapstructure:"name" validate:"required"`
	Cron     string         `mapstructure:"cron" validate:"required"`
	Workload string         `mapstructure:"workload" validate:"required"`
	Params   map[string]any `mapstructure:"params"`

	// Timeout and MaxRetries override the engine defaults for this job.
	// A nil MaxRetries keeps the default; zero disables retries.
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxRetries *int          `mapstructure:"max_retries" validate:"omitempty,gte=0"`
}
