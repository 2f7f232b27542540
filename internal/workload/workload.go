// Package workload provides the built-in task bodies the server can run:
// named workloads built from declarative parameters, for schedules, API
// submissions, and load generation.
package workload

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phrazzld/taskengine/engine"
)

// ErrUnknownWorkload is returned when a kind has no registered builder.
var ErrUnknownWorkload = errors.New("unknown workload")

// Builder constructs a task from declarative parameters. Builders
// validate their parameters and return an error for unusable ones.
type Builder func(params map[string]any) (engine.Task, error)

// Registry maps workload kinds to builders. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Default returns a registry with the built-in workloads registered.
func Default() *Registry {
	r := NewRegistry()
	// Built-ins cannot collide in a fresh registry.
	_ = r.Register("sleep", Sleep)
	_ = r.Register("flaky", Flaky)
	_ = r.Register("fib", Fib)
	return r
}

// Register adds a builder under kind. Registering a taken kind is an
// error so deployments cannot silently shadow built-ins.
func (r *Registry) Register(kind string, b Builder) error {
	if kind == "" {
		return fmt.Errorf("workload kind must not be empty")
	}
	if b == nil {
		return fmt.Errorf("workload %q: nil builder", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[kind]; ok {
		return fmt.Errorf("workload %q already registered", kind)
	}
	r.builders[kind] = b
	return nil
}

// Build constructs a task of the given kind from params.
func (r *Registry) Build(kind string, params map[string]any) (engine.Task, error) {
	r.mu.RLock()
	b, ok := r.builders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkload, kind)
	}
	return b(params)
}

// Kinds returns the registered workload kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.builders))
}

// Sleep builds a task that sleeps for duration_ms (default 100) and
// returns how long it slept. It honors cancellation while sleeping.
func Sleep(params map[string]any) (engine.Task, error) {
	dur, err := durationMSParam(params, "duration_ms", 100)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(dur):
			return dur.String(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil
}

// Flaky builds a task that sleeps for duration_ms (default 50) and then
// fails. With fail_attempts set, the first N calls fail deterministically
// and later ones succeed, which exercises retry recovery. Otherwise each
// call fails with probability failure_rate (default 0.5).
func Flaky(params map[string]any) (engine.Task, error) {
	dur, err := durationMSParam(params, "duration_ms", 50)
	if err != nil {
		return nil, err
	}
	failN, err := intParam(params, "fail_attempts", 0)
	if err != nil {
		return nil, err
	}
	if failN < 0 {
		return nil, fmt.Errorf("param %q must not be negative, got %d", "fail_attempts", failN)
	}
	rate, err := floatParam(params, "failure_rate", 0.5)
	if err != nil {
		return nil, err
	}
	if rate < 0 || rate > 1 {
		return nil, fmt.Errorf("param %q must be between 0 and 1, got %v", "failure_rate", rate)
	}

	// The counter is shared by every invocation of this task value, so
	// fail_attempts counts across retries of one submission.
	var calls atomic.Int64

	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(dur):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if failN > 0 {
			if n := calls.Add(1); n <= int64(failN) {
				return nil, fmt.Errorf("flaky workload failed (attempt %d of %d doomed)", n, failN)
			}
			return "ok", nil
		}

		if rand.Float64() < rate {
			return nil, fmt.Errorf("flaky workload failed (rate %.2f)", rate)
		}
		return "ok", nil
	}, nil
}

// maxFib is the largest index whose Fibonacci number fits in an int64.
const maxFib = 92

// Fib builds a CPU-bound task computing the n-th Fibonacci number
// (default 30).
func Fib(params map[string]any) (engine.Task, error) {
	n, err := intParam(params, "n", 30)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxFib {
		return nil, fmt.Errorf("param %q must be between 0 and %d, got %d", "n", maxFib, n)
	}

	return func(ctx context.Context) (any, error) {
		var a, b int64 = 0, 1
		for i := 0; i < n; i++ {
			a, b = b, a+b
		}
		return a, nil
	}, nil
}

// durationMSParam reads an integer millisecond parameter as a duration.
func durationMSParam(params map[string]any, key string, def int) (time.Duration, error) {
	ms, err := intParam(params, key, def)
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return 0, fmt.Errorf("param %q must not be negative, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// intParam coerces a numeric parameter to int. YAML delivers ints, JSON
// delivers float64; both are accepted.
func intParam(params map[string]any, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}

	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("param %q must be an integer, got %v", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("param %q must be a number, got %T", key, raw)
	}
}

// floatParam coerces a numeric parameter to float64.
func floatParam(params map[string]any, key string, def float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}

	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("param %q must be a number, got %T", key, raw)
	}
}
