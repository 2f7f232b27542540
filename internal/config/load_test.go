package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupEnv sets up environment variables for testing
func setupEnv(t *testing.T, envVars map[string]string) func() {
	// Save current environment values
	originalValues := make(map[string]string)
	for name := range envVars {
		originalValues[name] = os.Getenv(name)
	}

	// Set new environment variables
	for name, value := range envVars {
		err := os.Setenv(name, value)
		require.NoError(t, err, "Failed to set environment variable %s", name)
	}

	// Return cleanup function
	return func() {
		// Restore original environment
		for name, value := range originalValues {
			if value == "" {
				os.Unsetenv(name)
			} else {
				os.Setenv(name, value)
			}
		}
	}
}

// chdir switches the working directory for the duration of the test so
// Load picks up the config file placed there.
func chdir(t *testing.T, dir string) {
	t.Helper()

	original, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(original))
	})
}

// TestLoadDefaults verifies that the Load function sets the expected default
// values when no environment variables are set.
func TestLoadDefaults(t *testing.T) {
	// Explicitly unset the keys we want to test defaults for; an empty
	// environment value counts as unset.
	cleanup := setupEnv(t, map[string]string{
		"TASKENGINE_SERVER_PORT":                 "",
		"TASKENGINE_SERVER_LOG_LEVEL":            "",
		"TASKENGINE_ENGINE_MAX_CONCURRENT_TASKS": "",
		"TASKENGINE_ENGINE_MAX_QUEUE_SIZE":       "",
		"TASKENGINE_ENGINE_BACKOFF":              "",
	})
	defer cleanup()

	cfg, err := Load()

	require.NoError(t, err, "Load() should not return an error with default values")
	require.NotNil(t, cfg, "Load() should return a non-nil config")
	assert.Equal(t, 8080, cfg.Server.Port, "Default server port should be 8080")
	assert.Equal(t, "info", cfg.Server.LogLevel, "Default log level should be 'info'")
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrentTasks)
	assert.Equal(t, 100, cfg.Engine.MaxQueueSize)
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, 3, cfg.Engine.DefaultMaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Engine.RetryMaxDelay)
	assert.Equal(t, time.Minute, cfg.Engine.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.Engine.RetentionWindow)
	assert.Equal(t, "linear", cfg.Engine.Backoff)
	assert.Zero(t, cfg.Engine.DispatchRate)
	assert.Empty(t, cfg.Schedules)
}

// TestLoadFromEnv verifies that the Load function correctly reads values from
// environment variables.
func TestLoadFromEnv(t *testing.T) {
	cleanup := setupEnv(t, map[string]string{
		"TASKENGINE_SERVER_PORT":                 "9090",
		"TASKENGINE_SERVER_LOG_LEVEL":            "debug",
		"TASKENGINE_ENGINE_MAX_CONCURRENT_TASKS": "16",
		"TASKENGINE_ENGINE_MAX_QUEUE_SIZE":       "256",
		"TASKENGINE_ENGINE_DEFAULT_TIMEOUT":      "45s",
		"TASKENGINE_ENGINE_BACKOFF":              "exponential",
		"TASKENGINE_ENGINE_DISPATCH_RATE":        "2.5",
		"TASKENGINE_ENGINE_DISPATCH_BURST":       "5",
	})
	defer cleanup()

	cfg, err := Load()

	require.NoError(t, err, "Load() should not return an error with valid environment variables")
	require.NotNil(t, cfg, "Load() should return a non-nil config")
	assert.Equal(t, 9090, cfg.Server.Port, "Server port should be loaded from environment variables")
	assert.Equal(t, "debug", cfg.Server.LogLevel, "Log level should be loaded from environment variables")
	assert.Equal(t, 16, cfg.Engine.MaxConcurrentTasks)
	assert.Equal(t, 256, cfg.Engine.MaxQueueSize)
	assert.Equal(t, 45*time.Second, cfg.Engine.DefaultTimeout)
	assert.Equal(t, "exponential", cfg.Engine.Backoff)
	assert.Equal(t, 2.5, cfg.Engine.DispatchRate)
	assert.Equal(t, 5, cfg.Engine.DispatchBurst)
}

// TestLoadFromFile verifies config file loading, schedule parsing, and that
// environment variables still win over file values.
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: 7000
  log_level: warn
engine:
  max_concurrent_tasks: 8
schedules:
  - name: heartbeat
    cron: "@every 30s"
    workload: sleep
    params:
      duration_ms: 50
  - name: nightly-report
    cron: "0 3 * * *"
    workload: fib
    params:
      n: 25
    timeout: 5s
    max_retries: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	chdir(t, dir)

	cleanup := setupEnv(t, map[string]string{
		"TASKENGINE_SERVER_PORT": "7001",
	})
	defer cleanup()

	cfg, err := Load()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 7001, cfg.Server.Port, "environment overrides the config file")
	assert.Equal(t, "warn", cfg.Server.LogLevel, "file overrides defaults")
	assert.Equal(t, 8, cfg.Engine.MaxConcurrentTasks)
	assert.Equal(t, 100, cfg.Engine.MaxQueueSize, "unset keys keep their defaults")

	require.Len(t, cfg.Schedules, 2)

	heartbeat := cfg.Schedules[0]
	assert.Equal(t, "heartbeat", heartbeat.Name)
	assert.Equal(t, "@every 30s", heartbeat.Cron)
	assert.Equal(t, "sleep", heartbeat.Workload)
	assert.EqualValues(t, 50, heartbeat.Params["duration_ms"])
	assert.Nil(t, heartbeat.MaxRetries, "omitted retry override stays nil")
	assert.Zero(t, heartbeat.Timeout)

	report := cfg.Schedules[1]
	assert.Equal(t, "nightly-report", report.Name)
	assert.Equal(t, "fib", report.Workload)
	assert.EqualValues(t, 25, report.Params["n"])
	assert.Equal(t, 5*time.Second, report.Timeout)
	require.NotNil(t, report.MaxRetries)
	assert.Equal(t, 0, *report.MaxRetries, "explicit zero disables retries")
}

// TestLoadValidationErrors verifies that the Load function correctly
// validates the configuration.
func TestLoadValidationErrors(t *testing.T) {
	testCases := []struct {
		name           string
		envVars        map[string]string
		errorSubstring string
	}{
		{
			name: "Port out of range",
			envVars: map[string]string{
				"TASKENGINE_SERVER_PORT": "999999",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Invalid log level",
			envVars: map[string]string{
				"TASKENGINE_SERVER_LOG_LEVEL": "loud",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Zero concurrency",
			envVars: map[string]string{
				"TASKENGINE_ENGINE_MAX_CONCURRENT_TASKS": "0",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Unknown backoff strategy",
			envVars: map[string]string{
				"TASKENGINE_ENGINE_BACKOFF": "fibonacci",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Negative dispatch rate",
			envVars: map[string]string{
				"TASKENGINE_ENGINE_DISPATCH_RATE": "-1",
			},
			errorSubstring: "validation failed",
		},
		{
			name: "Malformed duration",
			envVars: map[string]string{
				"TASKENGINE_ENGINE_DEFAULT_TIMEOUT": "bogus",
			},
			errorSubstring: "unmarshal config",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cleanup := setupEnv(t, tc.envVars)
			defer cleanup()

			cfg, err := Load()

			require.Error(t, err, "Load() should return an error with invalid configuration")
			assert.Contains(t, err.Error(), tc.errorSubstring, "Error message should contain expected substring")
			assert.Nil(t, cfg, "Config should be nil when an error occurs")
		})
	}
}

// TestLoadRejectsInvalidSchedule verifies schedule entries are validated.
func TestLoadRejectsInvalidSchedule(t *testing.T) {
	dir := t.TempDir()
	yaml := `
schedules:
  - name: broken
    workload: sleep
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	chdir(t, dir)

	cfg, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Nil(t, cfg)
}

// TestLoadRejectsMalformedFile verifies unreadable config files surface as
// errors instead of being silently skipped.
func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(":\nnot yaml::"), 0o644))
	chdir(t, dir)

	cfg, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
	assert.Nil(t, cfg)
}
