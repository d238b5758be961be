// Package stack drives the docker compose project that hosts the benchmarked
// backends: bring it up, wait for health checks, stop single services to
// simulate node failures, tear it down.
package stack

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultProject        = "storebench"
	DefaultComposeFile    = "deploy/compose.yml"
	HealthCheckInterval   = 2 * time.Second
	DefaultHealthyTimeout = 120 * time.Second
)

// Runner executes docker and returns its combined output.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func dockerRunner(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "docker", args...) //nolint:gosec // args are controlled internal values
	return cmd.CombinedOutput()
}

type Compose struct {
	file     string
	project  string
	run      Runner
	interval time.Duration
}

type Option func(*Compose)

func WithRunner(r Runner) Option {
	return func(c *Compose) { c.run = r }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Compose) {
		if d > 0 {
			c.interval = d
		}
	}
}

func NewCompose(file, project string, opts ...Option) *Compose {
	if file == "" {
		file = DefaultComposeFile
	}
	if project == "" {
		project = DefaultProject
	}
	c := &Compose{file: file, project: project, run: dockerRunner, interval: HealthCheckInterval}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compose) Project() string { return c.project }

// Up starts the given services, or all of them when none are named.
func (c *Compose) Up(ctx context.Context, services ...string) error {
	return c.compose(ctx, "up", append([]string{"up", "-d"}, services...)...)
}

func (c *Compose) Down(ctx context.Context) error {
	return c.compose(ctx, "down", "down")
}

// Stop halts services without removing them, which is how a node failure
// is simulated while the monitor is running.
func (c *Compose) Stop(ctx context.Context, services ...string) error {
	return c.compose(ctx, "stop", append([]string{"stop"}, services...)...)
}

func (c *Compose) Start(ctx context.Context, services ...string) error {
	return c.compose(ctx, "start", append([]string{"start"}, services...)...)
}

func (c *Compose) compose(ctx context.Context, verb string, args ...string) error {
	full := append([]string{"compose", "-f", c.file, "-p", c.project}, args...)
	out, err := c.run(ctx, full...)
	if err != nil {
		return fmt.Errorf("docker compose %s failed for %s: %w\noutput: %s", verb, c.project, err, out)
	}
	return nil
}

// WaitHealthy polls compose until every required service reports healthy.
func (c *Compose) WaitHealthy(ctx context.Context, timeout time.Duration, services ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var lastErr error
	for {
		healthy, err := c.checkServicesHealth(ctx, services)
		if err == nil && healthy {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("services did not become healthy within %s: %w", timeout, lastErr)
			}
			return fmt.Errorf("services did not become healthy within %s", timeout)
		case <-ticker.C:
		}
	}
}

type composeService struct {
	Name    string `json:"Name"`
	Service string `json:"Service"`
	State   string `json:"State"`
	Health  string `json:"Health"`
}

// Health reports each service's health, falling back to its state for
// services without a health check.
func (c *Compose) Health(ctx context.Context) (map[string]string, error) {
	out, err := c.run(ctx, "compose", "-f", c.file, "-p", c.project, "ps", "--all", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("docker compose ps failed: %w\noutput: %s", err, out)
	}

	services, err := parseComposeServices(out)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compose ps output: %w", err)
	}

	health := make(map[string]string, len(services))
	for _, svc := range services {
		name := svc.Service
		if name == "" {
			name = extractServiceName(svc.Name, c.project)
		}
		status := svc.Health
		if status == "" {
			status = svc.State
		}
		health[name] = status
	}
	return health, nil
}

func (c *Compose) checkServicesHealth(ctx context.Context, required []string) (bool, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return false, err
	}
	if len(required) == 0 {
		if len(health) == 0 {
			return false, nil
		}
		for _, status := range health {
			if !ready(status) {
				return false, nil
			}
		}
		return true, nil
	}

	for _, name := range required {
		status, exists := health[name]
		if !exists {
			return false, fmt.Errorf("service %s not found in compose stack", name)
		}
		if !ready(status) {
			return false, nil
		}
	}
	return true, nil
}

func ready(status string) bool {
	return status == "healthy" || status == "running"
}

// parseComposeServices accepts both the line-delimited objects of newer
// compose releases and the single JSON array of older ones.
func parseComposeServices(data []byte) ([]composeService, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var services []composeService
		if err := json.Unmarshal([]byte(trimmed), &services); err != nil {
			return nil, fmt.Errorf("failed to unmarshal service JSON: %w", err)
		}
		return services, nil
	}

	var services []composeService
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var svc composeService
		if err := json.Unmarshal([]byte(line), &svc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal service JSON: %w", err)
		}
		services = append(services, svc)
	}
	return services, nil
}

func extractServiceName(containerName, projectName string) string {
	prefix := projectName + "-"
	if name, found := strings.CutPrefix(containerName, prefix); found {
		if idx := strings.LastIndex(name, "-"); idx > 0 {
			return name[:idx]
		}
		return name
	}
	return containerName
}
