// Package schedule fires task submissions into a Manager on cron
// expressions, with an optional seconds field for sub-minute jobs.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/phrazzld/taskengine/engine"
)

// parser accepts standard 5-field expressions, an optional leading
// seconds field, and descriptors like @hourly and @every.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns a cron runner that submits named jobs to one Manager.
// Jobs may be added and removed while the scheduler runs; all methods
// are safe for concurrent use.
type Scheduler struct {
	manager *engine.Manager
	logger  *slog.Logger
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler builds a scheduler that submits to manager. A nil logger
// falls back to slog.Default().
func NewScheduler(manager *engine.Manager, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	return &Scheduler{
		manager: manager,
		logger:  logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger{logger}),
		),
		entries: make(map[string]cron.EntryID),
	}
}

// Add schedules work under a unique job name. Every submission the job
// makes is labeled with that name; opts may override it. The job starts
// firing once Start has been called.
func (s *Scheduler) Add(name, expr string, work engine.Task, opts ...engine.SubmitOption) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if work == nil {
		return engine.ErrNilTask
	}

	schedule, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	submitOpts := append([]engine.SubmitOption{engine.WithName(name)}, opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}

	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.fire(name, work, submitOpts)
	}))
	s.entries[name] = entryID

	s.logger.Debug("job scheduled", "job", name, "cron", expr)
	return nil
}

// fire submits one occurrence of the job. A rejected submission is
// logged and dropped; the next occurrence tries again.
func (s *Scheduler) fire(name string, work engine.Task, opts []engine.SubmitOption) {
	id, err := s.manager.Submit(work, opts...)
	if err != nil {
		s.logger.Warn("scheduled submission rejected", "job", name, "error", err)
		return
	}
	s.logger.Debug("job fired", "job", name, "task_id", id)
}

// Remove unschedules the named job and reports whether it existed.
// Tasks the job already submitted are unaffected.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.entries, name)

	s.logger.Debug("job removed", "job", name)
	return true
}

// Names returns the scheduled job names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.entries))
}

// Len returns how many jobs are scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Next returns when the named job fires next. It reports false for
// unknown jobs and before the scheduler has started.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	next := s.cron.Entry(entryID).Next
	return next, !next.IsZero()
}

// Start begins firing jobs. Jobs may be added before or after.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Len())
}

// Stop quits the cron loop and waits for in-flight submissions, bounded
// by ctx. Tasks already handed to the manager keep running; stopping
// the manager is the caller's next step.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()

	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to the cron runner's logging interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
