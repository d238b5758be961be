package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/apostoltudor/bdnsv/internal/cli"
	"github.com/apostoltudor/bdnsv/internal/database"
	"github.com/apostoltudor/bdnsv/internal/monitor"
)

func newProbeCmd(global *globalOptions) *cobra.Command {
	var backends []string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe each backend once and exit non-zero if any failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := global.load()
			if err != nil {
				return err
			}
			defer a.Close()
			if timeout > 0 {
				a.cfg.Monitor.TimeoutDuration = timeout
			}
			return runProbe(cmd.Context(), a, backends)
		},
	}
	cmd.Flags().StringSliceVarP(&backends, "backends", "b", nil, "Backends to probe (default: all enabled)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Deadline of each probe")
	return cmd
}

func runProbe(ctx context.Context, a *app, names []string) error {
	backends, err := a.cfg.EnabledBackends(names...)
	if err != nil {
		return err
	}

	adapters, err := database.OpenAll(ctx, backends, a.env, database.Options{
		WriteProbe: a.cfg.Monitor.WriteProbe,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	mon, err := monitor.New(adapters,
		monitor.WithTimeout(a.cfg.Monitor.TimeoutDuration),
		monitor.WithLogger(a.logger.With("component", "monitor")),
	)
	if err != nil {
		return errors.Join(err, database.CloseAll(adapters))
	}
	defer func() {
		if err := mon.Close(); err != nil {
			a.logger.Warn("failed to close adapters", "error", err)
		}
	}()

	return probeAll(ctx, mon)
}

func probeAll(ctx context.Context, mon *monitor.Monitor) error {
	cli.Section("Probe")
	failed := false
	for _, name := range mon.Backends() {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := mon.ProbeOnce(ctx, name)
		if err != nil {
			return err
		}
		cli.StatusLinef(res.OK, "%s", res.String())
		if !res.OK {
			failed = true
		}
	}
	if failed {
		return errRunsFailed
	}
	return nil
}
