package engine

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/phrazzld/taskengine/engine/backoff"
)

// Config holds tuning parameters for a Manager
type Config struct {
	// MaxConcurrentTasks bounds how many tasks execute at once.
	MaxConcurrentTasks int

	// MaxQueueSize bounds outstanding tasks (pending plus running).
	// Submissions beyond it fail immediately with ErrQueueFull.
	MaxQueueSize int

	// DefaultTimeout is the per-attempt budget for tasks submitted
	// without WithTimeout.
	DefaultTimeout time.Duration

	// DefaultMaxRetries is the retry ceiling for tasks submitted without
	// WithMaxRetries. Zero disables retries.
	DefaultMaxRetries int

	// RetryBaseDelay seeds the backoff strategy's first delay.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps backoff delays. Zero means uncapped.
	RetryMaxDelay time.Duration

	// CleanupInterval is how often the sweeper scans for evictable
	// records.
	CleanupInterval time.Duration

	// RetentionWindow is how long terminal records stay queryable before
	// the sweeper reclaims them.
	RetentionWindow time.Duration
}

// DefaultConfig provides reasonable default values for most workloads
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 4,
		MaxQueueSize:       100,
		DefaultTimeout:     30 * time.Second,
		DefaultMaxRetries:  3,
		RetryBaseDelay:     100 * time.Millisecond,
		RetryMaxDelay:      10 * time.Second,
		CleanupInterval:    time.Minute,
		RetentionWindow:    5 * time.Minute,
	}
}

// withDefaults fills unset fields from DefaultConfig. DefaultMaxRetries
// zero is respected (no retries); only a negative value falls back.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = def.DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.RetryMaxDelay < 0 {
		c.RetryMaxDelay = 0
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = def.RetentionWindow
	}
	return c
}

// ManagerOption customizes a Manager at construction
type ManagerOption func(*Manager)

// WithLogger sets the logger used for engine diagnostics.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEventHandler registers a lifecycle event handler. The option may be
// given multiple times; handlers run synchronously in registration order.
func WithEventHandler(h Handler) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.handlers = append(m.handlers, h)
		}
	}
}

// WithBackoff sets the constructor used to build each task's retry delay
// strategy. Every task gets a fresh Strategy so stateful strategies track
// one task's history only. Defaults to linear backoff seeded from Config.
func WithBackoff(newStrategy func() backoff.Strategy) ManagerOption {
	return func(m *Manager) {
		if newStrategy != nil {
			m.newBackoff = newStrategy
		}
	}
}

// WithDispatchRateLimit throttles how fast queued tasks may begin
// executing, on top of the concurrency bound.
func WithDispatchRateLimit(limit rate.Limit, burst int) ManagerOption {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// SubmitOption customizes a single submission
type SubmitOption func(*submitOptions)

// submitOptions collects per-submission overrides. maxRetries -1 means
// unset, so an explicit WithMaxRetries(0) can disable retries.
type submitOptions struct {
	name       string
	timeout    time.Duration
	maxRetries int
	metadata   map[string]any
}

func newSubmitOptions(opts []SubmitOption) submitOptions {
	so := submitOptions{maxRetries: -1}
	for _, opt := range opts {
		opt(&so)
	}
	return so
}

// WithName labels the task in logs and status output. Defaults to
// "task-" plus a short id prefix.
func WithName(name string) SubmitOption {
	return func(so *submitOptions) {
		so.name = name
	}
}

// WithTimeout overrides the Manager's default per-attempt budget.
func WithTimeout(d time.Duration) SubmitOption {
	return func(so *submitOptions) {
		if d > 0 {
			so.timeout = d
		}
	}
}

// WithMaxRetries overrides how many times the task may be retried after
// a failed attempt. Zero disables retries.
func WithMaxRetries(n int) SubmitOption {
	return func(so *submitOptions) {
		if n >= 0 {
			so.maxRetries = n
		}
	}
}

// WithMetadata attaches an opaque bag to the task's record. The map is
// cloned at submission.
func WithMetadata(md map[string]any) SubmitOption {
	return func(so *submitOptions) {
		so.metadata = md
	}
}
