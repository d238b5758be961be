package config

import "time"

type Config struct {
	Benchmark BenchmarkConfig  `json:"benchmark" yaml:"benchmark"`
	Monitor   MonitorConfig    `json:"monitor" yaml:"monitor"`
	Backends  []BackendConfig  `json:"backends" yaml:"backends" validate:"required,min=1,unique=Name,dive"`
	Workloads []WorkloadConfig `json:"workloads" yaml:"workloads" validate:"required,min=1,unique=Name,dive"`
	Embedding EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Influx    InfluxConfig     `json:"influx" yaml:"influx"`
	Logging   LoggingConfig    `json:"logging" yaml:"logging"`

	Env *Env `json:"-" yaml:"-"`
}

type BenchmarkConfig struct {
	Trials           int    `json:"trials" yaml:"trials" validate:"gt=0"`
	Warmup           int    `json:"warmup" yaml:"warmup" validate:"gte=0,ltfield=Trials"`
	FailureThreshold string `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	Cooldown         string `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`

	FailureThresholdFraction float64       `json:"-" yaml:"-"`
	CooldownDuration         time.Duration `json:"-" yaml:"-"`
}

type MonitorConfig struct {
	Interval   string `json:"interval" yaml:"interval"`
	Timeout    string `json:"timeout" yaml:"timeout"`
	Window     int    `json:"window" yaml:"window" validate:"gt=0"`
	Listen     string `json:"listen,omitempty" yaml:"listen,omitempty" validate:"omitempty,hostname_port"`
	Board      bool   `json:"board,omitempty" yaml:"board,omitempty"`
	WriteProbe bool   `json:"write_probe,omitempty" yaml:"write_probe,omitempty"`

	IntervalDuration time.Duration `json:"-" yaml:"-"`
	TimeoutDuration  time.Duration `json:"-" yaml:"-"`
}

type BackendConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	Kind     string `json:"kind" yaml:"kind" validate:"required,oneof=postgres mongodb redis cassandra qdrant weaviate"`
	Disabled bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type WorkloadConfig struct {
	Name      string   `json:"name" yaml:"name" validate:"required"`
	Type      string   `json:"type" yaml:"type" validate:"required,oneof=point_lookup aggregate write health_probe"`
	Backends  []string `json:"backends,omitempty" yaml:"backends,omitempty"`
	Keys      KeySpace `json:"keys,omitzero" yaml:"keys,omitempty"`
	GroupKey  string   `json:"group_key,omitempty" yaml:"group_key,omitempty"`
	Metric    string   `json:"metric,omitempty" yaml:"metric,omitempty"`
	Func      string   `json:"func,omitempty" yaml:"func,omitempty" validate:"omitempty,oneof=sum count avg"`
	TopN      int      `json:"top_n,omitempty" yaml:"top_n,omitempty" validate:"gte=0"`
	QueryText string   `json:"query_text,omitempty" yaml:"query_text,omitempty"`
	BatchSize int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty" validate:"gte=0"`
	Seed      uint64   `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// KeySpace draws Count lookup keys uniformly from [Min, Max].
type KeySpace struct {
	Min   int64  `json:"min" yaml:"min"`
	Max   int64  `json:"max" yaml:"max" validate:"gtefield=Min"`
	Count int    `json:"count" yaml:"count" validate:"gte=0"`
	Seed  uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// EmbeddingConfig selects how query_text becomes a search vector. The
// hashing provider needs no network and is deterministic.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider" validate:"oneof=hashing openai"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions" yaml:"dimensions" validate:"gt=0"`
}

type InfluxConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	URL      string `json:"url" yaml:"url" validate:"omitempty,url"`
	Database string `json:"database" yaml:"database"`
	Token    string `json:"token" yaml:"token"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json text"`
	Output string `json:"output" yaml:"output" validate:"required"`
}
