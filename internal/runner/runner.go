package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/stats"
)

type State int32

const (
	StateIdle State = iota
	StateWarmingUp
	StateMeasuring
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateWarmingUp:
		return "WARMING_UP"
	case StateMeasuring:
		return "MEASURING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// TrialEvent is reported to the observer after every trial.
type TrialEvent struct {
	Backend   string
	Operation string
	Index     int
	Total     int
	Warmup    bool
	Latency   time.Duration
	Err       error
}

type Observer func(TrialEvent)

type Option func(*Runner)

func WithClock(clock stats.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithFailureThreshold sets the tolerated fraction (0..1) of failed
// measured trials. Zero voids a run on its first failure.
func WithFailureThreshold(fraction float64) Option {
	return func(r *Runner) { r.threshold = min(max(fraction, 0), 1) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(r *Runner) { r.observer = observer }
}

// Runner executes trials of one operation against one adapter, strictly
// one after another, and summarizes the measured ones.
type Runner struct {
	clock     stats.Clock
	threshold float64
	logger    *slog.Logger
	observer  Observer

	runMu sync.Mutex
	state atomic.Int32
}

func New(opts ...Option) *Runner {
	r := &Runner{clock: stats.SystemClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) Threshold() float64 {
	return r.threshold
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

type trialOutcome struct {
	latency  time.Duration
	notFound int
	err      error
}

func (r *Runner) Run(ctx context.Context, adapter backend.Adapter, op backend.Operation, trials, warmup int) (*BenchmarkResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.setState(StateIdle)
	defer r.setState(StateDone)

	if trials <= 0 {
		return nil, fmt.Errorf("trial count must be > 0, got %d", trials)
	}
	warmup = max(warmup, 0)
	if trials < warmup+1 {
		return nil, fmt.Errorf("%w: %d trials leave nothing after %d warm-up", stats.ErrInsufficientSamples, trials, warmup)
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	logger := r.logger.With("backend", adapter.Name(), "operation", op.Name(), "run_id", runID.String())
	result := &BenchmarkResult{
		RunID:     runID.String(),
		Backend:   adapter.Name(),
		Operation: op.Name(),
		Kind:      op.Kind(),
		Items:     op.Items(),
		Trials:    trials,
		Warmup:    warmup,
		StartedAt: r.clock.Now(),
	}

	if resolver, ok := adapter.(backend.KeyResolver); ok && op.Kind() == backend.KindPointLookup {
		keys, err := resolver.ResolveKeys(ctx, op.Keys())
		if err != nil {
			return nil, fmt.Errorf("%s/%s: failed to resolve keys: %w", adapter.Name(), op.Name(), err)
		}
		resolved, err := backend.PointLookup(op.Name(), keys...)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", adapter.Name(), op.Name(), err)
		}
		op = resolved
	}

	exec := r.trialFunc(adapter, op)
	items := op.Items()
	sample := make(stats.Sample, 0, trials)
	warmupSamples := 0
	var lastErr error

	for i := range trials {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run interrupted after %d of %d trials: %w", i, trials, err)
		}

		inWarmup := i < warmup
		if inWarmup {
			r.setState(StateWarmingUp)
		} else {
			r.setState(StateMeasuring)
		}

		out := exec(ctx)
		result.NotFoundCount += out.notFound

		switch {
		case out.err != nil && inWarmup:
			result.WarmupFailures++
			logger.Debug("warm-up trial failed", "trial", i, "error", out.err)
		case out.err != nil:
			result.FailureCount++
			lastErr = out.err
			logger.Debug("trial failed", "trial", i, "error", out.err)
		default:
			sample = append(sample, out.latency.Seconds()/float64(items))
			if inWarmup {
				warmupSamples++
			}
		}

		if r.observer != nil {
			r.observer(TrialEvent{
				Backend:   adapter.Name(),
				Operation: op.Name(),
				Index:     i,
				Total:     trials,
				Warmup:    inWarmup,
				Latency:   out.latency,
				Err:       out.err,
			})
		}
	}

	result.Elapsed = r.clock.Since(result.StartedAt)
	if lastErr != nil {
		result.LastError = lastErr.Error()
	}

	measured := trials - warmup
	if rate := float64(result.FailureCount) / float64(measured); rate > r.threshold {
		logger.Warn("run voided", "failures", result.FailureCount, "trials", measured, "threshold", r.threshold)
		return nil, &IncompleteError{
			Backend:   adapter.Name(),
			Operation: op.Name(),
			Failures:  result.FailureCount,
			Trials:    measured,
			Threshold: r.threshold,
			LastErr:   lastErr,
		}
	}

	summary, err := stats.Summarize(sample, warmupSamples)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", adapter.Name(), op.Name(), err)
	}
	result.Summary = summary

	if result.AllMissed() {
		logger.Warn("every lookup missed; keys do not match the stored records",
			"not_found", result.NotFoundCount)
	}

	logger.Info("run complete",
		"samples", summary.N,
		"mean", stats.Duration(summary.Mean),
		"failures", result.FailureCount,
		"not_found", result.NotFoundCount,
	)
	return result, nil
}

// trialFunc binds the operation payload once so per-trial work is only the
// adapter call itself.
func (r *Runner) trialFunc(adapter backend.Adapter, op backend.Operation) func(ctx context.Context) trialOutcome {
	switch op.Kind() {
	case backend.KindPointLookup:
		keys := op.Keys()
		return func(ctx context.Context) trialOutcome {
			notFound, d, err := stats.Measure(r.clock, func() (int, error) {
				missing := 0
				for _, key := range keys {
					if _, err := adapter.PointLookup(ctx, key); err != nil {
						if errors.Is(err, backend.ErrNotFound) {
							missing++
							continue
						}
						return missing, err
					}
				}
				return missing, nil
			})
			return trialOutcome{latency: d, notFound: notFound, err: err}
		}
	case backend.KindAggregate:
		spec := op.Spec()
		return func(ctx context.Context) trialOutcome {
			_, d, err := stats.Measure(r.clock, func() ([]backend.GroupResult, error) {
				return adapter.Aggregate(ctx, spec)
			})
			return trialOutcome{latency: d, err: err}
		}
	case backend.KindWrite:
		batch := op.Batch()
		return func(ctx context.Context) trialOutcome {
			_, d, err := stats.Measure(r.clock, func() (int, error) {
				return adapter.Write(ctx, batch)
			})
			return trialOutcome{latency: d, err: err}
		}
	case backend.KindHealthProbe:
		timeout := op.Timeout()
		return func(ctx context.Context) trialOutcome {
			res, d, _ := stats.Measure(r.clock, func() (backend.ProbeResult, error) {
				return adapter.HealthProbe(ctx, timeout), nil
			})
			out := trialOutcome{latency: d}
			if !res.OK {
				out.err = fmt.Errorf("probe %s: %s", res.Kind, res.Err)
			}
			return out
		}
	default:
		return func(context.Context) trialOutcome {
			return trialOutcome{err: fmt.Errorf("%w: %s", backend.ErrUnsupported, op.Kind())}
		}
	}
}
