package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/cli"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/database"
	"github.com/apostoltudor/bdnsv/internal/influx"
	"github.com/apostoltudor/bdnsv/internal/monitor"
	"github.com/apostoltudor/bdnsv/internal/server"
)

type monitorOptions struct {
	backends   []string
	interval   time.Duration
	timeout    time.Duration
	window     int
	listen     string
	board      bool
	writeProbe bool
}

func newMonitorCmd(global *globalOptions) *cobra.Command {
	opts := &monitorOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe backends continuously and track ONLINE / DEGRADED / DOWN",
		Long: `Probes every selected backend on its own loop until interrupted.
A backend turns DEGRADED on its first failed probe, DOWN after --window
consecutive failures, and ONLINE again on the next success.

Examples:
  storebench monitor --board
  storebench monitor --listen :9090 --interval 500ms --timeout 1s
  storebench monitor --backends mongodb --write-probe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := global.load()
			if err != nil {
				return err
			}
			defer a.Close()
			applyMonitorOverrides(cmd, a.cfg, opts)
			return runMonitor(cmd.Context(), a, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&opts.backends, "backends", "b", nil, "Backends to monitor (default: all enabled)")
	f.DurationVar(&opts.interval, "interval", 0, "Time between probes of one backend")
	f.DurationVar(&opts.timeout, "timeout", 0, "Deadline of a single probe")
	f.IntVar(&opts.window, "window", 0, "Consecutive failures before DOWN")
	f.StringVar(&opts.listen, "listen", "", "Serve the status API and /metrics on this address")
	f.BoolVar(&opts.board, "board", false, "Print a combined status line every interval")
	f.BoolVar(&opts.writeProbe, "write-probe", false, "Probe document stores with an insert instead of a ping")
	return cmd
}

func applyMonitorOverrides(cmd *cobra.Command, cfg *config.Config, opts *monitorOptions) {
	f := cmd.Flags()
	if f.Changed("interval") && opts.interval > 0 {
		cfg.Monitor.IntervalDuration = opts.interval
	}
	if f.Changed("timeout") && opts.timeout > 0 {
		cfg.Monitor.TimeoutDuration = opts.timeout
	}
	if f.Changed("window") && opts.window > 0 {
		cfg.Monitor.Window = opts.window
	}
	if f.Changed("listen") {
		cfg.Monitor.Listen = opts.listen
	}
	if f.Changed("board") {
		cfg.Monitor.Board = opts.board
	}
	if f.Changed("write-probe") {
		cfg.Monitor.WriteProbe = opts.writeProbe
	}
}

func runMonitor(ctx context.Context, a *app, opts *monitorOptions) error {
	cfg := a.cfg

	backends, err := cfg.EnabledBackends(opts.backends...)
	if err != nil {
		return err
	}
	cfg.PrintMonitor(backends)

	adapters, err := database.OpenAll(ctx, backends, a.env, database.Options{
		WriteProbe: cfg.Monitor.WriteProbe,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	monitorOpts := []monitor.Option{
		monitor.WithInterval(cfg.Monitor.IntervalDuration),
		monitor.WithTimeout(cfg.Monitor.TimeoutDuration),
		monitor.WithWindow(cfg.Monitor.Window),
		monitor.WithLogger(a.logger.With("component", "monitor")),
		monitor.WithNotifier(monitor.NewMetrics(reg)),
		monitor.WithNotifier(monitor.NotifierFunc(printChange)),
	}

	sink := influx.NewClient(cfg.Influx, influx.RunID(time.Now()), a.logger.With("component", "influx"))
	if sink != nil {
		defer func() {
			if err := sink.Close(); err != nil {
				a.logger.Warn("failed to close influx client", "error", err)
			}
		}()
		monitorOpts = append(monitorOpts, monitor.WithNotifier(sink))
	}

	mon, err := monitor.New(adapters, monitorOpts...)
	if err != nil {
		return errors.Join(err, database.CloseAll(adapters))
	}
	defer func() {
		if err := mon.Close(); err != nil {
			a.logger.Warn("failed to close adapters", "error", err)
		}
	}()

	cli.Section("Monitoring")
	cli.Infof("Press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	if cfg.Monitor.Listen != "" {
		srv := server.New(mon, reg, a.logger.With("component", "server"))
		g.Go(func() error {
			return srv.Serve(gctx, cfg.Monitor.Listen)
		})
	}
	if cfg.Monitor.Board {
		board := monitor.NewBoard(mon, cli.Output(), func(s monitor.Status, text string) string {
			return cli.StatusStyle(s.String(), text)
		})
		g.Go(func() error {
			board.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	cli.Infof("Monitor stopped")
	return nil
}

func printChange(change monitor.StatusChange) {
	line := fmt.Sprintf("%s: %s -> %s", change.Backend, change.From, change.To)
	switch {
	case change.To == monitor.StatusOnline:
		cli.Successf("%s", line)
	case change.Probe.Kind != backend.FailureNone:
		cli.Warnf("%s (%s)", line, change.Probe.Kind)
	default:
		cli.Warnf("%s", line)
	}
}
