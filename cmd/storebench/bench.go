package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/cli"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/database"
	"github.com/apostoltudor/bdnsv/internal/embed"
	"github.com/apostoltudor/bdnsv/internal/runner"
	"github.com/apostoltudor/bdnsv/internal/stack"
	"github.com/apostoltudor/bdnsv/internal/summary"
	"github.com/apostoltudor/bdnsv/internal/workload"
)

type benchOptions struct {
	backends    []string
	workloads   []string
	trials      int
	warmup      int
	threshold   string
	cooldown    time.Duration
	json        bool
	interactive bool
	compose     string
	keepStack   bool
}

func newBenchCmd(global *globalOptions) *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run the configured workloads against every selected backend",
		Long: `Runs each workload against each selected backend, one trial at a time,
and reports mean and standard deviation of the measured trials.

Examples:
  storebench bench
  storebench bench --backends postgres,mongodb --workloads top-cities
  storebench bench --trials 1000 --warmup 50 --threshold 5% --json > results.json
  storebench bench --compose deploy/compose.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := global.load()
			if err != nil {
				return err
			}
			defer a.Close()
			return runBench(cmd, a, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.backends, "backends", "b", nil, "Backends to benchmark (default: all enabled)")
	f.StringSliceVarP(&opts.workloads, "workloads", "w", nil, "Workloads to run (default: all)")
	f.IntVarP(&opts.trials, "trials", "n", 0, "Trials per run, warm-up included")
	f.IntVar(&opts.warmup, "warmup", 0, "Leading trials excluded from statistics")
	f.StringVar(&opts.threshold, "threshold", "", `Tolerated failed trials, e.g. "5%"`)
	f.DurationVar(&opts.cooldown, "cooldown", 0, "Pause between runs")
	f.BoolVar(&opts.json, "json", false, "Write result records as JSON to stdout")
	f.BoolVarP(&opts.interactive, "interactive", "i", false, "Pick backends and workloads interactively")
	f.StringVar(&opts.compose, "compose", "", "Compose file to start the backends from before benchmarking")
	f.BoolVar(&opts.keepStack, "keep-stack", false, "Leave the compose stack running afterwards")
	return cmd
}

func applyBenchOverrides(cmd *cobra.Command, cfg *config.Config, opts *benchOptions) error {
	f := cmd.Flags()
	if f.Changed("trials") {
		cfg.Benchmark.Trials = opts.trials
	}
	if f.Changed("warmup") {
		cfg.Benchmark.Warmup = opts.warmup
	}
	if f.Changed("cooldown") {
		cfg.Benchmark.CooldownDuration = opts.cooldown
	}
	if f.Changed("threshold") {
		if err := cfg.SetFailureThreshold(opts.threshold); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runBench(cmd *cobra.Command, a *app, opts *benchOptions) error {
	ctx := cmd.Context()
	cfg := a.cfg

	if opts.json {
		cli.SetOutput(os.Stderr)
	}

	if err := applyBenchOverrides(cmd, cfg, opts); err != nil {
		return err
	}

	if opts.interactive {
		cli.PrintBanner()
		selected, err := cli.PromptOptions(cfg.BackendNames(), cfg.WorkloadNames())
		if err != nil {
			return fmt.Errorf("failed to get options: %w", err)
		}
		cli.PrintSummary(selected)
		opts.backends, opts.workloads = selected.Backends, selected.Workloads
		if !selected.Warmup {
			cfg.Benchmark.Warmup = 0
		}
	}

	backends, err := cfg.EnabledBackends(opts.backends...)
	if err != nil {
		return err
	}
	if len(backends) == 0 {
		return errors.New("no backends selected")
	}
	workloads, err := cfg.SelectWorkloads(opts.workloads...)
	if err != nil {
		return err
	}

	cfg.Print(backends, workloads)

	if opts.compose != "" {
		compose := stack.NewCompose(opts.compose, "")
		if err := startStack(ctx, compose, backends); err != nil {
			return err
		}
		if !opts.keepStack {
			defer stopStack(compose) //nolint:contextcheck // teardown runs after cancellation
		}
	}

	embedder, err := embed.New(cfg.Embedding, a.env)
	if err != nil {
		return err
	}

	adapters, err := database.OpenAll(ctx, backends, a.env, database.Options{Embedder: embedder, Logger: a.logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := database.CloseAll(adapters); err != nil {
			a.logger.Warn("failed to close adapters", "error", err)
		}
	}()

	builder := workload.NewBuilder(embedder, cfg.Monitor.TimeoutDuration)
	jobs, err := buildJobs(ctx, builder, adapters, workloads, a.logger)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return errors.New("no backend supports the selected workloads")
	}

	cli.Section("Benchmark")
	cli.Infof("%d runs, %d trials each", len(jobs), cfg.Benchmark.Trials)

	spinner := cli.NewProgressSpinner()
	r := runner.New(
		runner.WithFailureThreshold(cfg.Benchmark.FailureThresholdFraction),
		runner.WithLogger(a.logger.With("component", "runner")),
		runner.WithObserver(func(ev runner.TrialEvent) {
			spinner.UpdateTrial(ev.Backend, ev.Operation, ev.Index, ev.Total, ev.Warmup, ev.Err != nil)
		}),
	)
	done := 0
	suite := runner.NewSuite(r, runner.SuiteConfig{
		Trials:   cfg.Benchmark.Trials,
		Warmup:   cfg.Benchmark.Warmup,
		Cooldown: cfg.Benchmark.CooldownDuration,
	}, runner.SuiteHooks{
		OnDone: func(runner.Job, *runner.BenchmarkResult, error) {
			done++
			spinner.JobDone(done)
		},
	}, a.logger.With("component", "suite"))

	start := time.Now()
	spinner.Start(len(jobs))
	report, err := suite.Run(ctx, jobs)
	spinner.Stop()
	elapsed := time.Since(start)

	if err != nil {
		cli.Warnf("Interrupted, reporting completed runs")
	}

	if opts.json {
		if jsonErr := summary.WriteJSON(os.Stdout, report.Results); jsonErr != nil {
			return jsonErr
		}
	}
	summary.Print(report, elapsed)

	if err != nil {
		return err
	}
	if report.Failed() {
		return errRunsFailed
	}
	return nil
}

// buildJobs pairs every workload with the backends it targets and that can
// serve it. Operations are built once and shared by all their runs.
func buildJobs(ctx context.Context, builder *workload.Builder, adapters []backend.Adapter, workloads []config.WorkloadConfig, logger *slog.Logger) ([]runner.Job, error) {
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Name())
	}

	var jobs []runner.Job
	for _, w := range workloads {
		targets := workload.Targets(w, names)
		if len(targets) == 0 {
			continue
		}

		op, err := builder.Build(ctx, w)
		if err != nil {
			return nil, err
		}

		for _, a := range adapters {
			if !slices.Contains(targets, a.Name()) {
				continue
			}
			if !backend.Supports(a, op) {
				logger.Debug("skipping unsupported workload", "backend", a.Name(), "workload", w.Name)
				continue
			}
			jobs = append(jobs, runner.Job{Adapter: a, Operation: op})
		}
	}
	return jobs, nil
}

func startStack(ctx context.Context, compose *stack.Compose, backends []config.BackendConfig) error {
	services := make([]string, 0, len(backends))
	for _, b := range backends {
		if !slices.Contains(services, b.Kind) {
			services = append(services, b.Kind)
		}
	}

	cli.Section("Database Stack")
	cli.Infof("Starting %s...", strings.Join(services, ", "))
	if err := compose.Up(ctx, services...); err != nil {
		return fmt.Errorf("failed to start databases: %w", err)
	}

	cli.Infof("Waiting for databases to be healthy...")
	if err := compose.WaitHealthy(ctx, stack.DefaultHealthyTimeout, services...); err != nil {
		return fmt.Errorf("databases did not become healthy: %w", err)
	}
	cli.Successf("All databases ready")
	return nil
}

func stopStack(compose *stack.Compose) {
	cli.Infof("Stopping databases...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := compose.Down(ctx); err != nil {
		cli.Warnf("Failed to stop databases: %v", err)
	}
}
