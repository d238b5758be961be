// Package workload turns configured workloads into backend operations.
package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/embed"
)

type Builder struct {
	embedder     embed.Embedder
	probeTimeout time.Duration
	now          func() time.Time
}

func NewBuilder(embedder embed.Embedder, probeTimeout time.Duration) *Builder {
	return &Builder{embedder: embedder, probeTimeout: probeTimeout, now: time.Now}
}

// Build resolves everything a trial needs up front: keys are drawn, batches
// generated and query text embedded before any timing starts.
func (b *Builder) Build(ctx context.Context, w config.WorkloadConfig) (backend.Operation, error) {
	switch backend.OperationKind(w.Type) {
	case backend.KindPointLookup:
		return backend.PointLookup(w.Name, Keys(w.Keys)...)

	case backend.KindAggregate:
		spec := backend.AggregateSpec{
			GroupKey: w.GroupKey,
			Metric:   w.Metric,
			Func:     backend.AggregateFunc(w.Func),
			TopN:     w.TopN,
		}
		if w.QueryText != "" {
			if b.embedder == nil {
				return backend.Operation{}, fmt.Errorf("workload %q: query_text needs an embedder", w.Name)
			}
			vec, err := b.embedder.Embed(ctx, w.QueryText)
			if err != nil {
				return backend.Operation{}, fmt.Errorf("workload %q: %w", w.Name, err)
			}
			spec.Vector = vec
		}
		return backend.Aggregate(w.Name, spec)

	case backend.KindWrite:
		seed := w.Seed
		if seed == 0 {
			seed = uint64(len(w.Name)) + 1
		}
		return backend.Write(w.Name, GenerateOrders(w.BatchSize, seed, b.now()))

	case backend.KindHealthProbe:
		return backend.HealthProbe(w.Name, b.probeTimeout)

	default:
		return backend.Operation{}, fmt.Errorf("workload %q: unknown type %q", w.Name, w.Type)
	}
}

// Keys draws ks.Count keys uniformly from [Min, Max]. Keys may repeat.
func Keys(ks config.KeySpace) []string {
	if ks.Count <= 0 || ks.Max < ks.Min {
		return nil
	}
	r := rand.New(rand.NewPCG(ks.Seed, ks.Seed+1))
	span := ks.Max - ks.Min + 1

	keys := make([]string, ks.Count)
	for i := range keys {
		keys[i] = strconv.FormatInt(ks.Min+r.Int64N(span), 10)
	}
	return keys
}

// Targets narrows backends to those the workload names. A workload that
// names none applies to all.
func Targets(w config.WorkloadConfig, backends []string) []string {
	if len(w.Backends) == 0 {
		return slices.Clone(backends)
	}
	out := make([]string, 0, len(backends))
	for _, name := range backends {
		if slices.Contains(w.Backends, name) {
			out = append(out, name)
		}
	}
	return out
}
