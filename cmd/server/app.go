package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/phrazzld/taskengine/engine"
	"github.com/phrazzld/taskengine/engine/backoff"
	"github.com/phrazzld/taskengine/internal/config"
	"github.com/phrazzld/taskengine/internal/workload"
	"github.com/phrazzld/taskengine/metrics"
	"github.com/phrazzld/taskengine/schedule"
)

// backoffJitter is the jitter fraction handed to the retry strategy
// factory. Only the jittered strategy reads it.
const backoffJitter = 0.5

// application holds the long-lived components of the server process and
// owns their shutdown order.
type application struct {
	config       *config.Config
	logger       *slog.Logger
	manager      *engine.Manager
	registry     *workload.Registry
	scheduler    *schedule.Scheduler
	promRegistry *prometheus.Registry
}

// newApplication wires the task manager, workload registry, scheduler,
// and metrics from configuration. The manager is running and all
// configured schedules are registered when it returns.
func newApplication(cfg *config.Config, appLogger *slog.Logger) (*application, error) {
	backoffType, err := backoff.ParseType(cfg.Engine.Backoff)
	if err != nil {
		return nil, fmt.Errorf("invalid backoff strategy: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	engineCfg := engine.Config{
		MaxConcurrentTasks: cfg.Engine.MaxConcurrentTasks,
		MaxQueueSize:       cfg.Engine.MaxQueueSize,
		DefaultTimeout:     cfg.Engine.DefaultTimeout,
		DefaultMaxRetries:  cfg.Engine.DefaultMaxRetries,
		RetryBaseDelay:     cfg.Engine.RetryBaseDelay,
		RetryMaxDelay:      cfg.Engine.RetryMaxDelay,
		CleanupInterval:    cfg.Engine.CleanupInterval,
		RetentionWindow:    cfg.Engine.RetentionWindow,
	}

	opts := []engine.ManagerOption{
		engine.WithLogger(appLogger),
		engine.WithEventHandler(collector.Handler()),
		engine.WithBackoff(func() backoff.Strategy {
			return backoff.New(backoffType, cfg.Engine.RetryBaseDelay, cfg.Engine.RetryMaxDelay, backoffJitter)
		}),
	}
	if cfg.Engine.DispatchRate > 0 {
		burst := cfg.Engine.DispatchBurst
		if burst < 1 {
			burst = 1
		}
		opts = append(opts, engine.WithDispatchRateLimit(rate.Limit(cfg.Engine.DispatchRate), burst))
	}

	manager := engine.NewManager(engineCfg, opts...)
	if err := manager.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task manager: %w", err)
	}

	registry := workload.Default()

	scheduler := schedule.NewScheduler(manager, appLogger)
	if err := registerSchedules(scheduler, registry, cfg.Schedules); err != nil {
		manager.Stop(cfg.Server.ShutdownTimeout)
		return nil, err
	}
	scheduler.Start()

	return &application{
		config:       cfg,
		logger:       appLogger,
		manager:      manager,
		registry:     registry,
		scheduler:    scheduler,
		promRegistry: promRegistry,
	}, nil
}

// registerSchedules builds each configured workload and hands it to the
// scheduler. A bad entry aborts startup rather than running a partial
// schedule set.
func registerSchedules(sched *schedule.Scheduler, registry *workload.Registry, entries []config.ScheduleConfig) error {
	for _, entry := range entries {
		work, err := registry.Build(entry.Workload, entry.Params)
		if err != nil {
			return fmt.Errorf("schedule %q: %w", entry.Name, err)
		}

		opts := []engine.SubmitOption{}
		if entry.Timeout > 0 {
			opts = append(opts, engine.WithTimeout(entry.Timeout))
		}
		if entry.MaxRetries != nil {
			opts = append(opts, engine.WithMaxRetries(*entry.MaxRetries))
		}

		if err := sched.Add(entry.Name, entry.Cron, work, opts...); err != nil {
			return fmt.Errorf("schedule %q: %w", entry.Name, err)
		}
	}
	return nil
}

// Run serves HTTP until ctx is cancelled, then shuts the components down
// in reverse dependency order.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	router := app.setupRouter()
	return app.startHTTPServer(ctx, router)
}

// cleanup stops the scheduler before the manager so no new submissions
// race the drain.
func (app *application) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.scheduler.Stop(ctx); err != nil {
		app.logger.Error("scheduler shutdown incomplete", "error", err)
	}
	app.manager.Stop(app.config.Server.ShutdownTimeout)
	app.logger.Info("application shutdown complete")
}
