package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/apostoltudor/bdnsv/internal/cli"
	"github.com/apostoltudor/bdnsv/internal/stack"
)

type stackOptions struct {
	file    string
	project string
	wait    bool
}

// newStackCmd manages the compose project. stop and start on single
// services are the failure drill to run while "monitor" is watching.
func newStackCmd() *cobra.Command {
	opts := &stackOptions{}

	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the docker compose stack that hosts the backends",
		Example: `  storebench stack up
  storebench stack stop mongodb
  storebench stack start mongodb
  storebench stack status
  storebench stack down`,
	}
	cmd.PersistentFlags().StringVarP(&opts.file, "file", "f", stack.DefaultComposeFile, "Compose file")
	cmd.PersistentFlags().StringVarP(&opts.project, "project", "p", stack.DefaultProject, "Compose project name")

	compose := func() *stack.Compose { return stack.NewCompose(opts.file, opts.project) }

	up := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start services and optionally wait until they are healthy",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := compose()
			if err := c.Up(cmd.Context(), args...); err != nil {
				return err
			}
			if opts.wait {
				cli.Infof("Waiting for services to be healthy...")
				if err := c.WaitHealthy(cmd.Context(), stack.DefaultHealthyTimeout, args...); err != nil {
					return err
				}
			}
			cli.Successf("Stack %s is up", c.Project())
			return nil
		},
	}
	up.Flags().BoolVar(&opts.wait, "wait", true, "Wait for health checks")

	down := &cobra.Command{
		Use:   "down",
		Short: "Stop and remove the whole stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := compose().Down(cmd.Context()); err != nil {
				return err
			}
			cli.Successf("Stack removed")
			return nil
		},
	}

	stop := &cobra.Command{
		Use:   "stop service...",
		Short: "Stop services to simulate a node failure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := compose().Stop(cmd.Context(), args...); err != nil {
				return err
			}
			cli.Warnf("Stopped %v", args)
			return nil
		},
	}

	start := &cobra.Command{
		Use:   "start service...",
		Short: "Start previously stopped services",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := compose().Start(cmd.Context(), args...); err != nil {
				return err
			}
			cli.Successf("Started %v", args)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the health of every service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := compose().Health(cmd.Context())
			if err != nil {
				return err
			}
			if len(health) == 0 {
				return fmt.Errorf("no services running in project %s", opts.project)
			}
			names := make([]string, 0, len(health))
			for name := range health {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				state := health[name]
				cli.StatusLinef(state == "healthy" || state == "running", "%-10s %s", name, state)
			}
			return nil
		},
	}

	cmd.AddCommand(up, down, stop, start, status)
	return cmd
}
