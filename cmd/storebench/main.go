// Command storebench benchmarks point lookups, aggregates and writes across
// heterogeneous stores and watches their availability.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apostoltudor/bdnsv/internal/cli"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/logging"
)

// errRunsFailed is returned once the failure has already been reported, so
// main only has to set the exit code.
var errRunsFailed = errors.New("one or more runs failed")

type globalOptions struct {
	configFile string
	envFiles   []string
	logLevel   string
}

type app struct {
	cfg      *config.Config
	env      *config.Env
	logger   *slog.Logger
	closeLog func() error
}

func (a *app) Close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunsFailed) {
			cli.Failf("%v", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "storebench",
		Short:         "Compare latency and availability of relational, document and vector stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"Config file (.json, .yaml, .yml); defaults to "+config.DefaultConfigFile+" when present")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "Env files to load before the process environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(
		newBenchCmd(opts),
		newMonitorCmd(opts),
		newProbeCmd(opts),
		newStackCmd(),
	)
	return root
}

// load resolves config and environment and installs the process logger.
func (g *globalOptions) load() (*app, error) {
	env := config.LoadEnv(g.envFiles...)
	if g.logLevel != "" {
		env.LogLevel = g.logLevel
	}

	path := g.configFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigFile); err == nil {
			path = config.DefaultConfigFile
		}
	}

	cfg, err := config.Load(path, env)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, env: env, logger: logger, closeLog: closeLog}, nil
}
