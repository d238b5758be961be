package influx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/influxdb3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/monitor"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*influxdb3.Point
	calls  int
	err    error
	closed bool
}

func (f *fakeWriter) WritePoints(_ context.Context, points []*influxdb3.Point, _ ...influxdb3.WriteOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.points = append(f.points, points...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) measurements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.points))
	for _, p := range f.points {
		out = append(out, p.Values.MeasurementName)
	}
	return out
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNilClientIsNoop(t *testing.T) {
	var c *Client
	assert.NotPanics(t, func() {
		c.RecordProbe(backend.ProbeResult{Backend: "pg"}, monitor.StatusOnline)
		c.Notify(monitor.StatusChange{Backend: "pg"})
		c.Flush()
	})
	assert.NoError(t, c.Close())
}

func TestDisabledReturnsNil(t *testing.T) {
	assert.Nil(t, NewClient(config.InfluxConfig{Enabled: false}, "run", nil))
}

func TestProbesBufferedUntilClose(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, "run-1", discard())

	now := time.Now()
	c.RecordProbe(backend.ProbeResult{Backend: "pg", OK: true, Latency: time.Millisecond, At: now}, monitor.StatusOnline)
	c.RecordProbe(backend.ProbeResult{Backend: "pg", Kind: backend.FailureTimeout, Err: "deadline", At: now}, monitor.StatusDegraded)

	assert.Empty(t, w.measurements())

	require.NoError(t, c.Close())
	assert.Equal(t, []string{"probe_result", "probe_result"}, w.measurements())
	assert.True(t, w.closed)

	p := w.points[1]
	assert.Equal(t, "run-1", p.Values.Tags["run_id"])
	assert.Equal(t, "pg", p.Values.Tags["backend"])
	assert.Equal(t, "TIMEOUT", p.Values.Fields["kind"])
	assert.Equal(t, "DEGRADED", p.Values.Fields["status"])
}

func TestNotifyFlushesImmediately(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, "run-1", discard())

	c.RecordProbe(backend.ProbeResult{Backend: "mongo", At: time.Now()}, monitor.StatusDown)
	c.Notify(monitor.StatusChange{Backend: "mongo", From: monitor.StatusDegraded, To: monitor.StatusDown, At: time.Now()})
	c.wg.Wait()

	assert.Equal(t, []string{"probe_result", "status_change"}, w.measurements())
	assert.Equal(t, "DOWN", w.points[1].Values.Fields["to"])
	require.NoError(t, c.Close())
}

func TestFullBatchFlushes(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, "run-1", discard())
	for range writeBatchSize {
		c.RecordProbe(backend.ProbeResult{Backend: "pg", OK: true, At: time.Now()}, monitor.StatusOnline)
	}
	c.wg.Wait()
	assert.Len(t, w.measurements(), writeBatchSize)
	require.NoError(t, c.Close())
}

func TestWriteErrorsAreLogged(t *testing.T) {
	w := &fakeWriter{err: errors.New("unauthorized")}
	c := newClient(w, "run-1", discard())
	c.Notify(monitor.StatusChange{Backend: "pg", At: time.Now()})
	assert.NoError(t, c.Close())
	assert.Equal(t, 1, w.calls)
}

func TestRunID(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "20260304-050607", RunID(ts))
}
