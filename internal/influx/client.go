// Package influx exports monitor telemetry to InfluxDB 3. A nil *Client is
// valid and drops everything, so callers never branch on whether export is
// enabled.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/influxdb3"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/monitor"
)

const (
	writeBatchSize = 500
	writeTimeout   = 5 * time.Second
)

type pointWriter interface {
	WritePoints(ctx context.Context, points []*influxdb3.Point, options ...influxdb3.WriteOption) error
	Close() error
}

type Client struct {
	writer pointWriter
	runID  string
	logger *slog.Logger

	mu      sync.Mutex
	pending []*influxdb3.Point
	wg      sync.WaitGroup
}

// NewClient connects to the configured database. It returns nil when export
// is disabled or the client cannot be created; telemetry is best effort.
func NewClient(cfg config.InfluxConfig, runID string, logger *slog.Logger) *Client {
	if !cfg.Enabled {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "influx")

	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.URL,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		logger.Warn("influx export disabled", "url", cfg.URL, "error", err)
		return nil
	}
	logger.Info("influx export enabled", "url", cfg.URL, "database", cfg.Database)
	return newClient(client, runID, logger)
}

func newClient(w pointWriter, runID string, logger *slog.Logger) *Client {
	return &Client{
		writer:  w,
		runID:   runID,
		logger:  logger,
		pending: make([]*influxdb3.Point, 0, writeBatchSize),
	}
}

// RecordProbe queues one probe_result point per probe.
func (c *Client) RecordProbe(res backend.ProbeResult, status monitor.Status) {
	if c == nil {
		return
	}
	fields := map[string]any{
		"ok":         res.OK,
		"latency_ns": res.Latency.Nanoseconds(),
		"status":     status.String(),
	}
	if !res.OK {
		fields["kind"] = string(res.Kind)
		fields["error"] = res.Err
	}
	c.add(influxdb3.NewPoint("probe_result",
		map[string]string{"run_id": c.runID, "backend": res.Backend},
		fields,
		res.At,
	))
}

// Notify queues a status_change point and flushes, so transitions reach
// the database without waiting for a full batch.
func (c *Client) Notify(change monitor.StatusChange) {
	if c == nil {
		return
	}
	c.add(influxdb3.NewPoint("status_change",
		map[string]string{"run_id": c.runID, "backend": change.Backend},
		map[string]any{
			"from": change.From.String(),
			"to":   change.To.String(),
			"kind": string(change.Probe.Kind),
		},
		change.At,
	))
	c.Flush()
}

func (c *Client) add(p *influxdb3.Point) {
	c.mu.Lock()
	c.pending = append(c.pending, p)
	full := len(c.pending) >= writeBatchSize
	c.mu.Unlock()
	if full {
		c.Flush()
	}
}

// Flush hands the queued points to a background write.
func (c *Client) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	points := c.pending
	c.pending = make([]*influxdb3.Point, 0, writeBatchSize)
	c.mu.Unlock()
	c.writePointsAsync(points)
}

func (c *Client) writePointsAsync(points []*influxdb3.Point) {
	if len(points) == 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.writer.WritePoints(ctx, points); err != nil {
			c.logger.Warn("influx write failed", "points", len(points), "error", err)
		}
	}()
}

// Close flushes, waits for in-flight writes and closes the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.Flush()
	c.wg.Wait()
	if err := c.writer.Close(); err != nil {
		return fmt.Errorf("failed to close influx client: %w", err)
	}
	return nil
}

// RunID identifies one monitor session in exported series.
func RunID(t time.Time) string {
	return t.UTC().Format("20060102-150405")
}
