package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/phrazzld/taskengine/engine"
	"github.com/phrazzld/taskengine/engine/backoff"
	"github.com/phrazzld/taskengine/internal/workload"
)

var bold = color.New(color.Bold)

type benchOptions struct {
	tasks    int
	clients  int
	workers  int
	queue    int
	duration time.Duration
	failRate float64
	retries  int
	timeout  time.Duration
	backoff  string
	dispatch float64
	verbose  bool
}

func buildCLI() *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark the task engine with synthetic workloads",
		Long: `bench runs closed-loop clients against an in-process task manager.
Each client submits a flaky workload, waits for it to settle, and
repeats until the task budget is spent. The run ends with a summary
of outcomes, throughput, and client-observed latency percentiles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.tasks, "tasks", "n", 1000, "total number of tasks to run")
	cmd.Flags().IntVarP(&opts.clients, "clients", "c", 16, "concurrent submitting clients")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", runtime.NumCPU(), "engine execution slots")
	cmd.Flags().IntVar(&opts.queue, "queue", 256, "engine queue capacity")
	cmd.Flags().DurationVar(&opts.duration, "task-duration", 10*time.Millisecond, "simulated work per task")
	cmd.Flags().Float64Var(&opts.failRate, "fail-rate", 0, "probability a task attempt fails (0..1)")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "retry ceiling per task")
	cmd.Flags().DurationVar(&opts.timeout, "task-timeout", 5*time.Second, "per-attempt budget")
	cmd.Flags().StringVar(&opts.backoff, "backoff", "linear", "retry delay strategy: linear, exponential, jittered, or decorrelated")
	cmd.Flags().Float64Var(&opts.dispatch, "dispatch-rate", 0, "task starts per second, 0 for unlimited")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	return cmd
}

func runBench(ctx context.Context, opts *benchOptions) error {
	if opts.tasks < 1 {
		return fmt.Errorf("tasks must be positive, got %d", opts.tasks)
	}
	if opts.clients < 1 {
		return fmt.Errorf("clients must be positive, got %d", opts.clients)
	}
	if opts.failRate < 0 || opts.failRate > 1 {
		return fmt.Errorf("fail-rate must be between 0 and 1, got %v", opts.failRate)
	}

	backoffType, err := backoff.ParseType(opts.backoff)
	if err != nil {
		return err
	}

	work, err := workload.Default().Build("flaky", map[string]any{
		"duration_ms":  opts.duration.Milliseconds(),
		"failure_rate": opts.failRate,
	})
	if err != nil {
		return err
	}

	var logOutput io.Writer = io.Discard
	if opts.verbose {
		logOutput = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: slog.LevelDebug}))

	cfg := engine.DefaultConfig()
	cfg.MaxConcurrentTasks = opts.workers
	cfg.MaxQueueSize = opts.queue
	cfg.DefaultTimeout = opts.timeout
	cfg.DefaultMaxRetries = opts.retries

	managerOpts := []engine.ManagerOption{
		engine.WithLogger(logger),
		engine.WithBackoff(func() backoff.Strategy {
			return backoff.New(backoffType, cfg.RetryBaseDelay, cfg.RetryMaxDelay, 0.5)
		}),
	}
	if opts.dispatch > 0 {
		burst := opts.workers
		if burst < 1 {
			burst = 1
		}
		managerOpts = append(managerOpts, engine.WithDispatchRateLimit(rate.Limit(opts.dispatch), burst))
	}

	m := engine.NewManager(cfg, managerOpts...)
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Stop(10 * time.Second)

	printConfiguration(opts)

	bar := progressbar.NewOptions(opts.tasks,
		progressbar.OptionSetDescription("Running tasks"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	start := time.Now()
	results, err := drive(ctx, m, work, opts.tasks, opts.clients, bar)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	printResults(results, elapsed, m.GetStats())
	return nil
}

// drive runs the closed loop: clients goroutines each submit, wait, and
// repeat until tasks submissions have settled.
func drive(ctx context.Context, m *engine.Manager, work engine.Task, tasks, clients int, bar *progressbar.ProgressBar) (*benchResults, error) {
	results := &benchResults{}
	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for range clients {
		g.Go(func() error {
			for {
				if next.Add(1) > int64(tasks) {
					return nil
				}
				if err := runOne(gctx, m, work, results); err != nil {
					return err
				}
				_ = bar.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runOne submits a single task and waits for it to settle. Queue-full
// rejections back off and retry; any other submission error aborts the
// client.
func runOne(ctx context.Context, m *engine.Manager, work engine.Task, results *benchResults) error {
	for {
		start := time.Now()

		id, err := m.Submit(work)
		if errors.Is(err, engine.ErrQueueFull) {
			results.reject()
			select {
			case <-time.After(time.Millisecond):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}

		_, waitErr := m.Wait(ctx, id, 0)
		if waitErr != nil && errors.Is(waitErr, context.Canceled) {
			return waitErr
		}
		results.record(time.Since(start), waitErr)
		return nil
	}
}

// benchResults accumulates client-observed outcomes across all clients.
type benchResults struct {
	mu        sync.Mutex
	latencies []time.Duration
	completed int
	failed    int
	timedOut  int
	rejected  int
}

func (r *benchResults) record(latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latencies = append(r.latencies, latency)
	switch {
	case err == nil:
		r.completed++
	case errors.Is(err, engine.ErrTaskTimedOut):
		r.timedOut++
	default:
		r.failed++
	}
}

func (r *benchResults) reject() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected++
}

func printConfiguration(opts *benchOptions) {
	_, _ = bold.Println("Benchmark configuration")
	fmt.Printf("  tasks:          %d\n", opts.tasks)
	fmt.Printf("  clients:        %d\n", opts.clients)
	fmt.Printf("  workers:        %d\n", opts.workers)
	fmt.Printf("  queue:          %d\n", opts.queue)
	fmt.Printf("  task duration:  %s\n", opts.duration)
	fmt.Printf("  fail rate:      %.2f\n", opts.failRate)
	fmt.Printf("  retries:        %d\n", opts.retries)
	fmt.Printf("  backoff:        %s\n", opts.backoff)
	if opts.dispatch > 0 {
		fmt.Printf("  dispatch rate:  %.1f/s\n", opts.dispatch)
	}
	fmt.Println()
}

func printResults(results *benchResults, elapsed time.Duration, stats engine.Stats) {
	lat := results.latencies
	slices.Sort(lat)

	var sum time.Duration
	for _, d := range lat {
		sum += d
	}
	var mean time.Duration
	if len(lat) > 0 {
		mean = sum / time.Duration(len(lat))
	}
	throughput := float64(len(lat)) / elapsed.Seconds()

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	completedCell := fmt.Sprintf("%d", results.completed)
	if results.completed > 0 {
		completedCell = green(completedCell)
	}
	failedCell := fmt.Sprintf("%d", results.failed)
	if results.failed > 0 {
		failedCell = red(failedCell)
	}

	fmt.Println()
	_, _ = bold.Println("Results")

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Value")
	_ = table.Append("elapsed", elapsed.Round(time.Millisecond).String())
	_ = table.Append("throughput", fmt.Sprintf("%.1f tasks/s", throughput))
	_ = table.Append("completed", completedCell)
	_ = table.Append("failed", failedCell)
	_ = table.Append("timed out", fmt.Sprintf("%d", results.timedOut))
	_ = table.Append("queue rejections", fmt.Sprintf("%d", results.rejected))
	_ = table.Append("latency min", formatLatency(lat, 0))
	_ = table.Append("latency p50", formatLatency(lat, 0.50))
	_ = table.Append("latency p95", formatLatency(lat, 0.95))
	_ = table.Append("latency p99", formatLatency(lat, 0.99))
	_ = table.Append("latency max", formatLatency(lat, 1))
	_ = table.Append("latency mean", mean.Round(time.Microsecond).String())
	_ = table.Append("engine avg exec", stats.AvgExecutionTime.Round(time.Microsecond).String())
	_ = table.Render()
}

// formatLatency returns the p-th percentile of the sorted latencies.
func formatLatency(sorted []time.Duration, p float64) string {
	if len(sorted) == 0 {
		return "-"
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx].Round(time.Microsecond).String()
}
