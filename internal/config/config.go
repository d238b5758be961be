package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apostoltudor/bdnsv/internal/cli"
)

func (c *Config) Print(backends []BackendConfig, workloads []WorkloadConfig) {
	cli.Section("Configuration")

	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name)
	}
	cli.KeyValue("Backends", strings.Join(names, ", "))

	wnames := make([]string, 0, len(workloads))
	for _, w := range workloads {
		wnames = append(wnames, w.Name)
	}
	cli.KeyValue("Workloads", strings.Join(wnames, ", "))

	cli.KeyValuePairs(
		"Trials", strconv.Itoa(c.Benchmark.Trials),
		"Warm-up", strconv.Itoa(c.Benchmark.Warmup),
		"Failure threshold", cli.FormatPercent(c.Benchmark.FailureThresholdFraction),
	)

	cooldownStr := "disabled"
	if c.Benchmark.CooldownDuration > 0 {
		cooldownStr = cli.FormatDuration(c.Benchmark.CooldownDuration)
	}
	cli.KeyValue("Cooldown", cooldownStr)
}

func (c *Config) PrintMonitor(backends []BackendConfig) {
	cli.Section("Monitor")

	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name)
	}
	cli.KeyValue("Backends", strings.Join(names, ", "))
	cli.KeyValuePairs(
		"Interval", cli.FormatDuration(c.Monitor.IntervalDuration),
		"Timeout", cli.FormatDuration(c.Monitor.TimeoutDuration),
		"Down after", fmt.Sprintf("%d failures", c.Monitor.Window),
	)
	if c.Monitor.Listen != "" {
		cli.KeyValue("Status API", c.Monitor.Listen)
	}
	if c.Influx.Enabled {
		cli.KeyValue("Influx", c.Influx.URL+" / "+c.Influx.Database)
	}
}
