package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"
)

const (
	DefaultConfigFile       = "storebench.yaml"
	DefaultTrials           = 100
	DefaultWarmup           = 10
	DefaultFailureThreshold = "0%"
	DefaultCooldown         = "0s"
	DefaultInterval         = "1s"
	DefaultTimeout          = "1s"
	DefaultWindow           = 3
	DefaultTopN             = 5
	DefaultSearchTopN       = 3
	DefaultMetric           = "total_amount"
	DefaultFunc             = "sum"
	DefaultKeyMin           = 1
	DefaultKeyMax           = 500
	DefaultKeyCount         = 10
	DefaultBatchSize        = 100
	DefaultEmbedding        = "hashing"
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultDimensions       = 384
	DefaultInfluxURL        = "http://localhost:8181"
	DefaultInfluxDatabase   = "storebench"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultLogOutput        = "stderr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a JSON or YAML config file. An empty filename yields Default.
func Load(filename string, env *Env) (*Config, error) {
	if env == nil {
		env = &Env{}
	}
	if strings.TrimSpace(filename) == "" {
		cfg := Default()
		cfg.Env = env
		if err := applyDefaults(cfg); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(filename) //nolint:gosec // config file path is controlled
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(filename))
	if err != nil {
		return nil, err
	}
	cfg.Env = env

	if err = applyDefaults(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes raw config bytes; ext selects the codec.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
	return &cfg, nil
}

// Default is the shop comparison: relational vs document vs vector store
// over the same products and orders.
func Default() *Config {
	return &Config{
		Benchmark: BenchmarkConfig{
			Trials:           DefaultTrials,
			Warmup:           DefaultWarmup,
			FailureThreshold: DefaultFailureThreshold,
		},
		Monitor: MonitorConfig{
			Interval: DefaultInterval,
			Timeout:  DefaultTimeout,
			Window:   DefaultWindow,
		},
		Backends: []BackendConfig{
			{Name: "postgres", Kind: "postgres"},
			{Name: "mongodb", Kind: "mongodb"},
			{Name: "qdrant", Kind: "qdrant"},
			{Name: "redis", Kind: "redis", Disabled: true},
			{Name: "cassandra", Kind: "cassandra", Disabled: true},
			{Name: "weaviate", Kind: "weaviate", Disabled: true},
		},
		Workloads: []WorkloadConfig{
			{Name: "simple-lookup", Type: "point_lookup", Keys: KeySpace{Min: DefaultKeyMin, Max: DefaultKeyMax, Count: DefaultKeyCount, Seed: 42}},
			{Name: "top-cities", Type: "aggregate", GroupKey: "city", Metric: DefaultMetric, Func: DefaultFunc, TopN: DefaultTopN},
			{Name: "top-spenders", Type: "aggregate", GroupKey: "user", Metric: DefaultMetric, Func: DefaultFunc, TopN: DefaultTopN},
			{Name: "semantic-search", Type: "aggregate", QueryText: "cheap device for office work", TopN: DefaultSearchTopN},
			{Name: "ping", Type: "health_probe"},
		},
		Embedding: EmbeddingConfig{Provider: DefaultEmbedding, Dimensions: DefaultDimensions},
		Logging:   LoggingConfig{Level: DefaultLogLevel, Format: DefaultLogFormat, Output: DefaultLogOutput},
	}
}

func applyDefaults(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if cfg.Benchmark.Trials <= 0 {
		cfg.Benchmark.Trials = DefaultTrials
	}
	if cfg.Benchmark.Warmup < 0 {
		cfg.Benchmark.Warmup = 0
	}

	threshold, err := parsePercent(cfg.Benchmark.FailureThreshold, DefaultFailureThreshold)
	if err != nil {
		return fmt.Errorf("benchmark failure_threshold: %w", err)
	}
	if threshold > 100 {
		return errors.New("benchmark failure_threshold must be <= 100%")
	}
	cfg.Benchmark.FailureThresholdFraction = threshold / 100

	cooldown, err := parseDuration(cfg.Benchmark.Cooldown, DefaultCooldown)
	if err != nil {
		return fmt.Errorf("benchmark cooldown: %w", err)
	}
	if cooldown < 0 {
		return errors.New("benchmark cooldown must be >= 0")
	}
	cfg.Benchmark.CooldownDuration = cooldown

	interval, err := parseDuration(cfg.Monitor.Interval, DefaultInterval)
	if err != nil {
		return fmt.Errorf("monitor interval: %w", err)
	}
	if interval <= 0 {
		return errors.New("monitor interval must be > 0")
	}
	cfg.Monitor.IntervalDuration = interval

	timeout, err := parseDuration(cfg.Monitor.Timeout, DefaultTimeout)
	if err != nil {
		return fmt.Errorf("monitor timeout: %w", err)
	}
	if timeout <= 0 {
		return errors.New("monitor timeout must be > 0")
	}
	cfg.Monitor.TimeoutDuration = timeout

	if cfg.Monitor.Window <= 0 {
		cfg.Monitor.Window = DefaultWindow
	}

	for i := range cfg.Workloads {
		if err := applyWorkloadDefaults(&cfg.Workloads[i]); err != nil {
			return fmt.Errorf("workload %q: %w", cfg.Workloads[i].Name, err)
		}
	}

	cfg.Embedding.Provider = strings.ToLower(strings.TrimSpace(cfg.Embedding.Provider))
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = DefaultEmbedding
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = DefaultDimensions
	}
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.Model == "" {
		cfg.Embedding.Model = DefaultEmbeddingModel
	}

	if env := cfg.Env; env != nil {
		if env.InfluxURL != "" {
			cfg.Influx.URL = env.InfluxURL
		}
		if env.InfluxToken != "" {
			cfg.Influx.Token = env.InfluxToken
		}
		if env.InfluxDatabase != "" {
			cfg.Influx.Database = env.InfluxDatabase
		}
		if env.LogLevel != "" {
			cfg.Logging.Level = strings.ToLower(env.LogLevel)
		}
	}
	if cfg.Influx.URL == "" {
		cfg.Influx.URL = DefaultInfluxURL
	}
	if cfg.Influx.Database == "" {
		cfg.Influx.Database = DefaultInfluxDatabase
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if err := validate.Struct(cfg); err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		names = append(names, b.Name)
	}
	for _, w := range cfg.Workloads {
		for _, name := range w.Backends {
			if !slices.Contains(names, name) {
				return fmt.Errorf("workload %q: unknown backend %q", w.Name, name)
			}
		}
	}

	return nil
}

func applyWorkloadDefaults(w *WorkloadConfig) error {
	w.Type = strings.ToLower(strings.TrimSpace(w.Type))
	w.Func = strings.ToLower(strings.TrimSpace(w.Func))

	switch w.Type {
	case "point_lookup":
		if w.Keys.Count <= 0 {
			w.Keys.Count = DefaultKeyCount
		}
		if w.Keys.Min == 0 && w.Keys.Max == 0 {
			w.Keys.Min, w.Keys.Max = DefaultKeyMin, DefaultKeyMax
		}
	case "aggregate":
		if w.GroupKey == "" && w.QueryText == "" {
			return errors.New("aggregate needs group_key or query_text")
		}
		if w.TopN <= 0 {
			w.TopN = DefaultTopN
			if w.QueryText != "" {
				w.TopN = DefaultSearchTopN
			}
		}
		if w.GroupKey != "" {
			if w.Metric == "" {
				w.Metric = DefaultMetric
			}
			if w.Func == "" {
				w.Func = DefaultFunc
			}
		}
	case "write":
		if w.BatchSize <= 0 {
			w.BatchSize = DefaultBatchSize
		}
	}
	return nil
}

// EnabledBackends returns the backends that are not disabled, optionally
// narrowed to names. Naming a backend explicitly enables it.
func (c *Config) EnabledBackends(names ...string) ([]BackendConfig, error) {
	if len(names) == 0 {
		out := make([]BackendConfig, 0, len(c.Backends))
		for _, b := range c.Backends {
			if !b.Disabled {
				out = append(out, b)
			}
		}
		return out, nil
	}

	out := make([]BackendConfig, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(c.Backends, func(b BackendConfig) bool { return b.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("unknown backend %q", name)
		}
		out = append(out, c.Backends[idx])
	}
	return out, nil
}

func (c *Config) SelectWorkloads(names ...string) ([]WorkloadConfig, error) {
	if len(names) == 0 {
		return slices.Clone(c.Workloads), nil
	}
	out := make([]WorkloadConfig, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(c.Workloads, func(w WorkloadConfig) bool { return w.Name == name })
		if idx < 0 {
			return nil, fmt.Errorf("unknown workload %q", name)
		}
		out = append(out, c.Workloads[idx])
	}
	return out, nil
}

func (c *Config) BackendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for _, b := range c.Backends {
		names = append(names, b.Name)
	}
	return names
}

func (c *Config) WorkloadNames() []string {
	names := make([]string, 0, len(c.Workloads))
	for _, w := range c.Workloads {
		names = append(names, w.Name)
	}
	return names
}

// SetFailureThreshold replaces the tolerated failure rate with a percentage
// string such as "5%".
func (c *Config) SetFailureThreshold(value string) error {
	threshold, err := parsePercent(value, DefaultFailureThreshold)
	if err != nil {
		return fmt.Errorf("failure threshold: %w", err)
	}
	if threshold > 100 {
		return errors.New("failure threshold must be <= 100%")
	}
	c.Benchmark.FailureThreshold = strings.TrimSpace(value)
	c.Benchmark.FailureThresholdFraction = threshold / 100
	return nil
}

// Validate re-checks struct constraints after command-line overrides.
func (c *Config) Validate() error {
	return validate.Struct(c)
}
