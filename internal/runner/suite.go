package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

// Job pairs one adapter with one operation. Every job in a suite becomes a
// disjoint run with its own sample.
type Job struct {
	Adapter   backend.Adapter
	Operation backend.Operation
}

type Failure struct {
	Backend   string `json:"backend"`
	Operation string `json:"operation"`
	Err       error  `json:"-"`
	Message   string `json:"error"`
}

type Report struct {
	Results  []*BenchmarkResult `json:"results"`
	Failures []Failure          `json:"failures,omitempty"`
}

func (r *Report) Failed() bool {
	return len(r.Failures) > 0
}

type SuiteConfig struct {
	Trials   int
	Warmup   int
	Cooldown time.Duration
}

// SuiteHooks let the caller render progress without the suite knowing
// anything about the console.
type SuiteHooks struct {
	OnStart func(job Job, index, total int)
	OnDone  func(job Job, result *BenchmarkResult, err error)
}

type Suite struct {
	runner *Runner
	cfg    SuiteConfig
	hooks  SuiteHooks
	logger *slog.Logger
}

func NewSuite(runner *Runner, cfg SuiteConfig, hooks SuiteHooks, logger *slog.Logger) *Suite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suite{runner: runner, cfg: cfg, hooks: hooks, logger: logger}
}

// Run executes jobs in order. A failing job is recorded and the suite moves
// on; only cancellation stops it early.
func (s *Suite) Run(ctx context.Context, jobs []Job) (*Report, error) {
	report := &Report{Results: make([]*BenchmarkResult, 0, len(jobs))}

	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if s.hooks.OnStart != nil {
			s.hooks.OnStart(job, i, len(jobs))
		}

		result, err := s.runner.Run(ctx, job.Adapter, job.Operation, s.cfg.Trials, s.cfg.Warmup)
		if s.hooks.OnDone != nil {
			s.hooks.OnDone(job, result, err)
		}

		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Warn("benchmark run failed",
				"backend", job.Adapter.Name(), "operation", job.Operation.Name(), "error", err)
			report.Failures = append(report.Failures, Failure{
				Backend:   job.Adapter.Name(),
				Operation: job.Operation.Name(),
				Err:       err,
				Message:   err.Error(),
			})
		} else {
			report.Results = append(report.Results, result)
		}

		if s.cfg.Cooldown > 0 && i < len(jobs)-1 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.cfg.Cooldown):
			}
		}
	}

	return report, nil
}
