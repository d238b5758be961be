package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type OperationKind string

const (
	KindPointLookup OperationKind = "point_lookup"
	KindAggregate   OperationKind = "aggregate"
	KindWrite       OperationKind = "write"
	KindHealthProbe OperationKind = "health_probe"
)

var operationKinds = []OperationKind{KindPointLookup, KindAggregate, KindWrite, KindHealthProbe}

func IsOperationKind(value string) bool {
	for _, k := range operationKinds {
		if string(k) == value {
			return true
		}
	}
	return false
}

// Operation is an immutable description of one unit of benchmarked work.
// Build it with the constructors below; accessors hand out copies.
type Operation struct {
	kind    OperationKind
	name    string
	keys    []string
	spec    AggregateSpec
	batch   Batch
	timeout time.Duration
}

func PointLookup(name string, keys ...string) (Operation, error) {
	if len(keys) == 0 {
		return Operation{}, errors.New("point lookup needs at least one key")
	}
	return Operation{
		kind: KindPointLookup,
		name: defaultName(name, KindPointLookup),
		keys: append([]string(nil), keys...),
	}, nil
}

func Aggregate(name string, spec AggregateSpec) (Operation, error) {
	if spec.TopN <= 0 {
		return Operation{}, fmt.Errorf("aggregate top_n must be > 0, got %d", spec.TopN)
	}
	if spec.Func == "" {
		spec.Func = FuncSum
	}
	if !IsAggregateFunc(string(spec.Func)) {
		return Operation{}, fmt.Errorf("invalid aggregate func %q", spec.Func)
	}
	if spec.GroupKey == "" && len(spec.Vector) == 0 {
		return Operation{}, errors.New("aggregate needs a group key or a query vector")
	}
	return Operation{
		kind: KindAggregate,
		name: defaultName(name, KindAggregate),
		spec: spec.Clone(),
	}, nil
}

func Write(name string, batch Batch) (Operation, error) {
	if len(batch) == 0 {
		return Operation{}, errors.New("write batch is empty")
	}
	return Operation{
		kind:  KindWrite,
		name:  defaultName(name, KindWrite),
		batch: batch.Clone(),
	}, nil
}

func HealthProbe(name string, timeout time.Duration) (Operation, error) {
	if timeout <= 0 {
		return Operation{}, fmt.Errorf("probe timeout must be > 0, got %s", timeout)
	}
	return Operation{
		kind:    KindHealthProbe,
		name:    defaultName(name, KindHealthProbe),
		timeout: timeout,
	}, nil
}

func defaultName(name string, kind OperationKind) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return string(kind)
}

func (o Operation) Kind() OperationKind    { return o.kind }
func (o Operation) Name() string           { return o.name }
func (o Operation) Keys() []string         { return append([]string(nil), o.keys...) }
func (o Operation) Spec() AggregateSpec    { return o.spec.Clone() }
func (o Operation) Batch() Batch           { return o.batch.Clone() }
func (o Operation) Timeout() time.Duration { return o.timeout }

// Items is the normalization divisor for per-item reporting. Only point
// lookups are normalized; every other kind reports whole-operation time.
func (o Operation) Items() int {
	if o.kind == KindPointLookup {
		return len(o.keys)
	}
	return 1
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(%s)", o.kind, o.name)
}
