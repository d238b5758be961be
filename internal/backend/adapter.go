package backend

import (
	"context"
	"time"
)

// Adapter is the capability surface every storage backend exposes to the
// runner and the monitor. Query construction stays inside the adapter.
type Adapter interface {
	Name() string
	PointLookup(ctx context.Context, key string) (Record, error)
	Aggregate(ctx context.Context, spec AggregateSpec) ([]GroupResult, error)
	Write(ctx context.Context, batch Batch) (int, error)
	// HealthProbe must return within timeout and never panic.
	HealthProbe(ctx context.Context, timeout time.Duration) ProbeResult
	Close() error
}

// KeyResolver is implemented by adapters whose stored ids differ from the
// shared product numbers, such as document stores loaded with generated
// ObjectIDs. Keys are resolved once per run, before any trial is timed.
type KeyResolver interface {
	ResolveKeys(ctx context.Context, keys []string) ([]string, error)
}

type Record struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields,omitempty"`
}

type AggregateFunc string

const (
	FuncSum   AggregateFunc = "sum"
	FuncCount AggregateFunc = "count"
	FuncAvg   AggregateFunc = "avg"
)

var aggregateFuncs = []AggregateFunc{FuncSum, FuncCount, FuncAvg}

func IsAggregateFunc(value string) bool {
	for _, fn := range aggregateFuncs {
		if string(fn) == value {
			return true
		}
	}
	return false
}

// AggregateSpec describes a grouped top-N query. Vector is only read by
// similarity-search backends, which rank by score instead of grouping.
type AggregateSpec struct {
	GroupKey string        `json:"group_key,omitempty"`
	Metric   string        `json:"metric,omitempty"`
	Func     AggregateFunc `json:"func,omitempty"`
	TopN     int           `json:"top_n"`
	Vector   []float32     `json:"-"`
}

func (s AggregateSpec) Clone() AggregateSpec {
	if s.Vector != nil {
		s.Vector = append([]float32(nil), s.Vector...)
	}
	return s
}

type GroupResult struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Count int64   `json:"count,omitempty"`
}

type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
}

// Order is the unit written by Write workloads. UserName and City are
// snapshots so document and key-value stores need no join.
type Order struct {
	ID          string      `json:"id"`
	UserID      int64       `json:"user_id"`
	UserName    string      `json:"user_name"`
	City        string      `json:"city"`
	Items       []OrderItem `json:"items"`
	TotalAmount float64     `json:"total_amount"`
	OrderDate   time.Time   `json:"order_date"`
}

type Batch []Order

func (b Batch) Clone() Batch {
	out := make(Batch, len(b))
	for i, o := range b {
		o.Items = append([]OrderItem(nil), o.Items...)
		out[i] = o
	}
	return out
}

// Capable is implemented by adapters that can only serve part of the
// operation surface, such as vector stores that rank instead of group.
type Capable interface {
	Supports(op Operation) bool
}

// Supports reports whether a can serve op. Adapters without Capable are
// assumed to serve everything.
func Supports(a Adapter, op Operation) bool {
	if c, ok := a.(Capable); ok {
		return c.Supports(op)
	}
	return true
}
