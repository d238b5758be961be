// Package database holds the concrete storage adapters. Every adapter owns
// its own client and builds its own queries; callers only see
// backend.Adapter.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/config"
	"github.com/apostoltudor/bdnsv/internal/embed"
)

type Kind string

const (
	KindPostgres  Kind = "postgres"
	KindMongoDB   Kind = "mongodb"
	KindRedis     Kind = "redis"
	KindCassandra Kind = "cassandra"
	KindQdrant    Kind = "qdrant"
	KindWeaviate  Kind = "weaviate"
)

var kinds = []Kind{
	KindPostgres,
	KindMongoDB,
	KindRedis,
	KindCassandra,
	KindQdrant,
	KindWeaviate,
}

func IsKind(value string) bool {
	for _, k := range kinds {
		if string(k) == value {
			return true
		}
	}
	return false
}

// Group keys every adapter understands. Each maps them onto its own schema.
const (
	GroupCity = "city"
	GroupUser = "user"

	MetricTotalAmount = "total_amount"
)

var ErrUnknownKind = errors.New("unknown backend kind")

type Options struct {
	// Embedder vectorizes product names when vector stores index written
	// orders. Without one, vector stores do not accept writes.
	Embedder embed.Embedder
	// WriteProbe makes document stores prove liveness with an insert
	// instead of a ping.
	WriteProbe bool
	Logger     *slog.Logger
}

// Open builds the adapter for one configured backend. Drivers connect
// lazily, so Open succeeds even when the backend is down.
func Open(cfg config.BackendConfig, env *config.Env, opts Options) (backend.Adapter, error) {
	if env == nil {
		return nil, errors.New("database: environment is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("backend", cfg.Name, "kind", cfg.Kind)

	switch Kind(cfg.Kind) {
	case KindPostgres:
		return NewPostgres(cfg.Name, env.PostgresURL), nil
	case KindMongoDB:
		return NewMongo(cfg.Name, env.MongoDBURL, env.MongoDBDatabase, opts.WriteProbe), nil
	case KindRedis:
		return NewRedis(cfg.Name, env.RedisURL), nil
	case KindCassandra:
		return NewCassandra(cfg.Name, env.CassandraContactPoints, env.CassandraLocalDC, env.CassandraKeyspace), nil
	case KindQdrant:
		return NewQdrant(cfg.Name, env.QdrantAddr, env.QdrantCollection, opts.Embedder, logger)
	case KindWeaviate:
		return NewWeaviate(cfg.Name, env.WeaviateURL, env.WeaviateClass, opts.Embedder)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}

// OpenAll opens every backend or none: on failure the already opened
// adapters are closed.
func OpenAll(ctx context.Context, cfgs []config.BackendConfig, env *config.Env, opts Options) ([]backend.Adapter, error) {
	adapters := make([]backend.Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		if err := ctx.Err(); err != nil {
			return nil, errors.Join(err, CloseAll(adapters))
		}
		a, err := Open(cfg, env, opts)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("open %s: %w", cfg.Name, err), CloseAll(adapters))
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func CloseAll(adapters []backend.Adapter) error {
	var errs []error
	for _, a := range adapters {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", a.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func validateGroup(spec backend.AggregateSpec) error {
	switch spec.GroupKey {
	case GroupCity, GroupUser:
	default:
		return fmt.Errorf("%w: group key %q", backend.ErrUnsupported, spec.GroupKey)
	}
	if spec.Func != backend.FuncCount && spec.Metric != MetricTotalAmount {
		return fmt.Errorf("%w: metric %q", backend.ErrUnsupported, spec.Metric)
	}
	return nil
}

// UserLabel is the group label for per-user aggregates on every backend.
func UserLabel(name, city string) string {
	return name + " (" + city + ")"
}

func parseIntKey(key string) (int64, bool) {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// supportsGrouped is the Capable rule for stores that group but cannot rank
// by similarity.
func supportsGrouped(op backend.Operation) bool {
	if op.Kind() != backend.KindAggregate {
		return true
	}
	return op.Spec().GroupKey != ""
}

// supportsSimilarity is the Capable rule for vector stores.
func supportsSimilarity(op backend.Operation, canWrite bool) bool {
	switch op.Kind() {
	case backend.KindAggregate:
		spec := op.Spec()
		return spec.GroupKey == "" && len(spec.Vector) > 0
	case backend.KindWrite:
		return canWrite
	default:
		return true
	}
}
