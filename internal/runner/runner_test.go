package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/backend/backendtest"
	"github.com/apostoltudor/bdnsv/internal/stats"
)

func lookupOp(t *testing.T, keys ...string) backend.Operation {
	t.Helper()
	op, err := backend.PointLookup("simple-lookup", keys...)
	require.NoError(t, err)
	return op
}

func TestRunPointLookupReportsPerItemLatency(t *testing.T) {
	tests := []struct {
		name   string
		trials int
		keys   []string
	}{
		{"single key 1000 trials", 1000, []string{"1"}},
		{"single key 50 trials", 50, []string{"7"}},
		{"batch of ten", 200, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := backendtest.NewClock()
			fake := backendtest.New("postgres", backendtest.WithLatency(clock, 2*time.Millisecond))
			r := New(WithClock(clock))

			res, err := r.Run(context.Background(), fake, lookupOp(t, tt.keys...), tt.trials, 0)
			require.NoError(t, err)

			assert.InDelta(t, 0.002, res.Summary.Mean, 1e-12)
			assert.InDelta(t, 0.002, res.Summary.Min, 1e-12)
			assert.InDelta(t, 0.002, res.Summary.Max, 1e-12)
			assert.Equal(t, tt.trials, res.Summary.N)
			assert.Equal(t, tt.trials*len(tt.keys), fake.DataCalls())
		})
	}
}

func TestRunAlwaysSucceeds(t *testing.T) {
	fake := backendtest.New("mongodb")
	r := New()

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1"), 100, 10)
	require.NoError(t, err)

	assert.Zero(t, res.FailureCount)
	assert.Equal(t, 90, res.Summary.N)
	assert.Equal(t, 100, fake.DataCalls())
	assert.Equal(t, StateDone, r.State())
	assert.NotEmpty(t, res.RunID)
}

func TestRunFailsEveryOther(t *testing.T) {
	fake := backendtest.New("mongodb", backendtest.FailEveryOther())
	r := New()

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1"), 100, 10)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrBenchmarkIncomplete)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)

	var incomplete *IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 45, incomplete.Failures)
	assert.Equal(t, 90, incomplete.Trials)
	assert.InDelta(t, 0.5, incomplete.FailureRate(), 1e-12)
}

func TestRunToleratesFailuresUnderThreshold(t *testing.T) {
	fake := backendtest.New("mongodb", backendtest.FailEveryOther())
	r := New(WithFailureThreshold(0.6))

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1"), 100, 10)
	require.NoError(t, err)

	assert.Equal(t, 45, res.FailureCount)
	assert.Equal(t, 5, res.WarmupFailures)
	assert.Equal(t, 45, res.Summary.N)
	assert.NotEmpty(t, res.LastError)
}

func TestRunCountsNotFoundWithoutFailing(t *testing.T) {
	fake := backendtest.New("redis", backendtest.WithRecords(backend.Record{Key: "1"}))
	r := New()

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1", "404"), 20, 0)
	require.NoError(t, err)

	assert.Zero(t, res.FailureCount)
	assert.Equal(t, 20, res.NotFoundCount)
	assert.Equal(t, 20, res.Summary.N)
}

type resolvingFake struct {
	*backendtest.Fake
	ids      map[string]string
	resolved int
	err      error
}

func (f *resolvingFake) ResolveKeys(_ context.Context, keys []string) ([]string, error) {
	f.resolved++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = f.ids[k]
	}
	return out, nil
}

func TestRunResolvesKeysBeforeTiming(t *testing.T) {
	fake := &resolvingFake{
		Fake: backendtest.New("mongodb", backendtest.WithRecords(
			backend.Record{Key: "65a1f0c2e4b0a1b2c3d4e5f6"},
			backend.Record{Key: "65a1f0c2e4b0a1b2c3d4e5f7"},
		)),
		ids: map[string]string{"1": "65a1f0c2e4b0a1b2c3d4e5f6", "2": "65a1f0c2e4b0a1b2c3d4e5f7"},
	}
	r := New()

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1", "2"), 20, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.resolved)
	assert.Zero(t, res.NotFoundCount)
	assert.False(t, res.AllMissed())
	assert.Equal(t, "simple-lookup", res.Operation)
	assert.Equal(t, 40, fake.DataCalls())
}

func TestRunResolveKeysError(t *testing.T) {
	fake := &resolvingFake{Fake: backendtest.New("mongodb"), err: backend.ErrBackendUnavailable}
	r := New()

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1"), 20, 0)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
	assert.Zero(t, fake.DataCalls())
}

func TestRunFlagsEveryLookupMissing(t *testing.T) {
	fake := backendtest.New("mongodb", backendtest.WithRecords(backend.Record{Key: "65a1f0c2e4b0a1b2c3d4e5f6"}))
	r := New()

	res, err := r.Run(context.Background(), fake, lookupOp(t, "1", "2"), 20, 5)
	require.NoError(t, err)
	assert.Equal(t, 40, res.NotFoundCount)
	assert.True(t, res.AllMissed())

	res, err = r.Run(context.Background(), fake, lookupOp(t, "65a1f0c2e4b0a1b2c3d4e5f6", "2"), 20, 5)
	require.NoError(t, err)
	assert.Equal(t, 20, res.NotFoundCount)
	assert.False(t, res.AllMissed())
}

func TestRunStateTransitions(t *testing.T) {
	var r *Runner
	var seen []State
	r = New(WithObserver(func(ev TrialEvent) {
		seen = append(seen, r.State())
	}))
	assert.Equal(t, StateIdle, r.State())

	_, err := r.Run(context.Background(), backendtest.New("fake"), lookupOp(t, "1"), 5, 2)
	require.NoError(t, err)

	assert.Equal(t, []State{StateWarmingUp, StateWarmingUp, StateMeasuring, StateMeasuring, StateMeasuring}, seen)
	assert.Equal(t, StateDone, r.State())
	assert.Equal(t, "WARMING_UP", StateWarmingUp.String())
}

func TestRunInsufficientTrials(t *testing.T) {
	fake := backendtest.New("fake")
	r := New()

	_, err := r.Run(context.Background(), fake, lookupOp(t, "1"), 5, 5)
	assert.ErrorIs(t, err, stats.ErrInsufficientSamples)
	assert.Zero(t, fake.DataCalls())

	_, err = r.Run(context.Background(), fake, lookupOp(t, "1"), 0, 0)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := backendtest.New("fake")
	r := New(WithObserver(func(ev TrialEvent) {
		if ev.Index == 2 {
			cancel()
		}
	}))

	_, err := r.Run(ctx, fake, lookupOp(t, "1"), 100, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, fake.DataCalls())
}

func TestRunPartialWriteIsFailure(t *testing.T) {
	fake := backendtest.New("cassandra", backendtest.WithPartialWrites(1))
	op, err := backend.Write("orders", backend.Batch{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)

	_, err = New().Run(context.Background(), fake, op, 3, 0)
	require.ErrorIs(t, err, ErrBenchmarkIncomplete)

	var partial *backend.PartialWriteError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 1, partial.Written)
	assert.Equal(t, 2, partial.Attempted)
}

func TestRunAggregateAndProbe(t *testing.T) {
	clock := backendtest.NewClock()
	fake := backendtest.New("postgres",
		backendtest.WithLatency(clock, 40*time.Millisecond),
		backendtest.WithGroups(backend.GroupResult{Key: "Cluj", Value: 10}),
		backendtest.WithProbeOutcomes(backend.FailureNone, backend.FailureRefused),
	)

	agg, err := backend.Aggregate("top-cities", backend.AggregateSpec{GroupKey: "city", Metric: "total_amount", TopN: 5})
	require.NoError(t, err)
	res, err := New(WithClock(clock)).Run(context.Background(), fake, agg, 4, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.040, res.Summary.Mean, 1e-12)
	assert.Equal(t, 3, res.Summary.N)

	probe, err := backend.HealthProbe("ping", time.Second)
	require.NoError(t, err)
	_, err = New().Run(context.Background(), fake, probe, 2, 0)
	assert.ErrorIs(t, err, ErrBenchmarkIncomplete)
}

func TestResultRecord(t *testing.T) {
	res := &BenchmarkResult{
		Backend:      "postgres",
		Operation:    "top-cities",
		Summary:      stats.Summary{N: 9, Mean: 0.02, Min: 0.01, Max: 0.05},
		FailureCount: 1,
	}

	assert.Equal(t, Record{
		Backend:      "postgres",
		Operation:    "top-cities",
		MeanLatency:  0.02,
		MinLatency:   0.01,
		MaxLatency:   0.05,
		SampleCount:  9,
		FailureCount: 1,
	}, res.Record())
	assert.Len(t, Records([]*BenchmarkResult{res, res}), 2)
}
