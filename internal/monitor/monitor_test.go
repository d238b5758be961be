package monitor

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/backend/backendtest"
)

func TestTrackerSequence(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		want     []Status
	}{
		{
			name:     "three failures then recovery",
			outcomes: []bool{false, false, false, true},
			want:     []Status{StatusDegraded, StatusDegraded, StatusDown, StatusOnline},
		},
		{
			name:     "healthy stays online",
			outcomes: []bool{true, true, true},
			want:     []Status{StatusOnline, StatusOnline, StatusOnline},
		},
		{
			name:     "single failure lingers in window",
			outcomes: []bool{false, true, true, true},
			want:     []Status{StatusDegraded, StatusDegraded, StatusDegraded, StatusOnline},
		},
		{
			name:     "interrupted failures never reach down",
			outcomes: []bool{false, false, true, false, false, true},
			want:     []Status{StatusDegraded, StatusDegraded, StatusDegraded, StatusDegraded, StatusDegraded, StatusDegraded},
		},
		{
			name:     "failure after recovery from down",
			outcomes: []bool{false, false, false, true, false},
			want:     []Status{StatusDegraded, StatusDegraded, StatusDown, StatusOnline, StatusDegraded},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(3)
			assert.Equal(t, StatusOnline, tr.Status())

			got := make([]Status, 0, len(tt.outcomes))
			for _, ok := range tt.outcomes {
				got = append(got, tr.Apply(ok))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTrackerProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("DOWN exactly when the last K probes failed", prop.ForAll(
		func(outcomes []bool, k int) bool {
			tr := NewTracker(k)
			run := 0
			for _, ok := range outcomes {
				if ok {
					run = 0
				} else {
					run++
				}
				s := tr.Apply(ok)
				if (s == StatusDown) != (run >= k) {
					return false
				}
				if !ok && s == StatusOnline {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

func newMonitor(t *testing.T, adapters []backend.Adapter, opts ...Option) *Monitor {
	t.Helper()
	m, err := New(adapters, opts...)
	require.NoError(t, err)
	return m
}

func TestProbeOnceTimeoutsThenRecovery(t *testing.T) {
	fake := backendtest.New("mongodb", backendtest.WithProbeOutcomes(
		backend.FailureTimeout, backend.FailureTimeout, backend.FailureTimeout, backend.FailureNone,
	))
	m := newMonitor(t, []backend.Adapter{fake}, WithTimeout(20*time.Millisecond))

	var got []Status
	for range 4 {
		res, err := m.ProbeOnce(context.Background(), "mongodb")
		require.NoError(t, err)
		if !res.OK {
			assert.Equal(t, backend.FailureTimeout, res.Kind)
		}
		s, err := m.Observe("mongodb")
		require.NoError(t, err)
		got = append(got, s)
	}

	assert.Equal(t, []Status{StatusDegraded, StatusDegraded, StatusDown, StatusOnline}, got)
}

func TestObserveIsIdempotent(t *testing.T) {
	fake := backendtest.New("postgres", backendtest.WithProbeOutcomes(backend.FailureRefused))
	m := newMonitor(t, []backend.Adapter{fake})

	_, err := m.ProbeOnce(context.Background(), "postgres")
	require.NoError(t, err)

	first, err := m.Observe("postgres")
	require.NoError(t, err)
	for range 10 {
		again, err := m.Observe("postgres")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, fake.ProbeCalls())
}

func TestUnknownBackend(t *testing.T) {
	m := newMonitor(t, []backend.Adapter{backendtest.New("postgres")})

	_, err := m.Observe("oracle")
	assert.ErrorIs(t, err, ErrUnknownBackend)
	_, err = m.ProbeOnce(context.Background(), "oracle")
	assert.ErrorIs(t, err, ErrUnknownBackend)
	_, err = m.State("oracle")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoBackends)

	_, err = New([]backend.Adapter{backendtest.New("pg"), backendtest.New("pg")})
	assert.Error(t, err)
}

func TestRunLoopsAndStopsOnCancel(t *testing.T) {
	down := backendtest.New("mongodb", backendtest.WithProbeDefault(backend.FailureRefused))
	up := backendtest.New("postgres")

	changes := make(chan StatusChange, 16)
	m := newMonitor(t, []backend.Adapter{down, up},
		WithInterval(5*time.Millisecond),
		WithTimeout(50*time.Millisecond),
		WithNotifier(Channel(changes)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		s, _ := m.Observe("mongodb")
		return s == StatusDown
	}, 2*time.Second, 5*time.Millisecond)

	_, err := m.ProbeOnce(context.Background(), "postgres")
	assert.ErrorIs(t, err, ErrLoopActive)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	probes := down.ProbeCalls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, probes, down.ProbeCalls())

	s, err := m.Observe("mongodb")
	require.NoError(t, err)
	assert.Equal(t, StatusDown, s)
	up1, err := m.Observe("postgres")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, up1)

	first := <-changes
	assert.Equal(t, "mongodb", first.Backend)
	assert.Equal(t, StatusOnline, first.From)
	assert.Equal(t, StatusDegraded, first.To)

	_, err = m.ProbeOnce(context.Background(), "postgres")
	assert.NoError(t, err)
}

func TestSnapshot(t *testing.T) {
	fake := backendtest.New("redis", backendtest.WithProbeOutcomes(backend.FailureProtocolError))
	m := newMonitor(t, []backend.Adapter{backendtest.New("postgres"), fake})

	_, err := m.ProbeOnce(context.Background(), "redis")
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "postgres", snap[0].Name)
	assert.Nil(t, snap[0].LastProbe)
	assert.Equal(t, "redis", snap[1].Name)
	assert.Equal(t, StatusDegraded, snap[1].Status)
	assert.Equal(t, 1, snap[1].ConsecutiveFailures)
	assert.Equal(t, int64(1), snap[1].Probes)
	assert.Equal(t, int64(1), snap[1].Changes)
	require.NotNil(t, snap[1].LastProbe)
	assert.Equal(t, backend.FailureProtocolError, snap[1].LastProbe.Kind)
}

type recorder struct {
	mu      sync.Mutex
	probes  int
	changes []StatusChange
}

func (r *recorder) Notify(c StatusChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) RecordProbe(backend.ProbeResult, Status) {
	r.mu.Lock()
	r.probes++
	r.mu.Unlock()
}

func TestNotifiersSeeProbesAndChanges(t *testing.T) {
	fake := backendtest.New("qdrant", backendtest.WithProbeOutcomes(backend.FailureRefused))
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := newMonitor(t, []backend.Adapter{fake}, WithNotifier(rec), WithNotifier(metrics))

	for range 4 {
		_, err := m.ProbeOnce(context.Background(), "qdrant")
		require.NoError(t, err)
	}

	assert.Equal(t, 4, rec.probes)
	require.Len(t, rec.changes, 2)
	assert.Equal(t, StatusDegraded, rec.changes[0].To)
	assert.Equal(t, StatusOnline, rec.changes[1].To)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("qdrant", "REFUSED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.changes.WithLabelValues("qdrant", "ONLINE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.status.WithLabelValues("qdrant", "ONLINE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.status.WithLabelValues("qdrant", "DOWN")))
}

func TestBoardLine(t *testing.T) {
	fake := backendtest.New("mongodb", backendtest.WithProbeOutcomes(backend.FailureRefused))
	m := newMonitor(t, []backend.Adapter{backendtest.New("postgres"), fake})
	_, err := m.ProbeOnce(context.Background(), "mongodb")
	require.NoError(t, err)

	var buf bytes.Buffer
	board := NewBoard(m, &buf, nil)
	now := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, "[15:04:05] Iteration 7: postgres=[ONLINE] | mongodb=[DEGRADED (REFUSED)]", board.Line(7, now))

	styled := NewBoard(m, &buf, func(s Status, label string) string { return strings.ToLower(label) })
	assert.Contains(t, styled.Line(1, now), "postgres=[online]")
}

func TestCloseClosesAdapters(t *testing.T) {
	a, b := backendtest.New("a"), backendtest.New("b")
	m := newMonitor(t, []backend.Adapter{a, b})
	require.NoError(t, m.Close())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}
