package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

// Redis keeps products as hashes and maintains per-group running totals in
// sorted sets on every write, so aggregates are range reads.
type Redis struct {
	name string
	url  string

	mu     sync.Mutex
	client *redis.Client
}

func NewRedis(name, connectionString string) *Redis {
	return &Redis{name: name, url: connectionString}
}

func (r *Redis) Name() string { return r.name }

func (r *Redis) Supports(op backend.Operation) bool { return supportsGrouped(op) }

func (r *Redis) connect() (*redis.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	opt, err := redis.ParseURL(r.url)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid connection string: %w", r.name, err)
	}
	opt.DialTimeout = 5 * time.Second
	r.client = redis.NewClient(opt)
	return r.client, nil
}

func productKey(key string) string { return "product:" + key }
func orderKey(id string) string    { return "order:" + id }

func aggKey(group, fn string) string { return "agg:" + group + ":" + fn }

const userLabelsKey = "agg:user:labels"

func (r *Redis) PointLookup(ctx context.Context, key string) (backend.Record, error) {
	client, err := r.connect()
	if err != nil {
		return backend.Record{}, err
	}

	values, err := client.HGetAll(ctx, productKey(key)).Result()
	if err != nil {
		return backend.Record{}, r.wrap(err)
	}
	if len(values) == 0 {
		return backend.Record{}, backend.ErrNotFound
	}

	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	return backend.Record{Key: key, Fields: fields}, nil
}

func (r *Redis) Aggregate(ctx context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	if err := validateGroup(spec); err != nil {
		return nil, err
	}
	client, err := r.connect()
	if err != nil {
		return nil, err
	}

	sumKey, countKey := aggKey(spec.GroupKey, "sum"), aggKey(spec.GroupKey, "count")

	var results []backend.GroupResult
	switch spec.Func {
	case backend.FuncSum, backend.FuncCount:
		rankKey := sumKey
		if spec.Func == backend.FuncCount {
			rankKey = countKey
		}
		ranked, err := client.ZRevRangeWithScores(ctx, rankKey, 0, int64(spec.TopN-1)).Result()
		if err != nil {
			return nil, r.wrap(err)
		}
		results, err = r.withCounts(ctx, client, countKey, ranked)
		if err != nil {
			return nil, err
		}
	case backend.FuncAvg:
		sums, err := client.ZRangeWithScores(ctx, sumKey, 0, -1).Result()
		if err != nil {
			return nil, r.wrap(err)
		}
		results, err = r.withCounts(ctx, client, countKey, sums)
		if err != nil {
			return nil, err
		}
		for i := range results {
			if results[i].Count > 0 {
				results[i].Value /= float64(results[i].Count)
			}
		}
		slices.SortFunc(results, func(a, b backend.GroupResult) int { return cmp.Compare(b.Value, a.Value) })
		if len(results) > spec.TopN {
			results = results[:spec.TopN]
		}
	default:
		return nil, fmt.Errorf("%w: func %q", backend.ErrUnsupported, spec.Func)
	}

	if spec.GroupKey == GroupUser && len(results) > 0 {
		if err := r.resolveUserLabels(ctx, client, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (r *Redis) withCounts(ctx context.Context, client *redis.Client, countKey string, ranked []redis.Z) ([]backend.GroupResult, error) {
	if len(ranked) == 0 {
		return nil, nil
	}
	members := make([]string, len(ranked))
	for i, z := range ranked {
		members[i] = fmt.Sprint(z.Member)
	}
	counts, err := client.ZMScore(ctx, countKey, members...).Result()
	if err != nil {
		return nil, r.wrap(err)
	}

	results := make([]backend.GroupResult, len(ranked))
	for i, z := range ranked {
		results[i] = backend.GroupResult{Key: members[i], Value: z.Score}
		if i < len(counts) {
			results[i].Count = int64(counts[i])
		}
	}
	return results, nil
}

func (r *Redis) resolveUserLabels(ctx context.Context, client *redis.Client, results []backend.GroupResult) error {
	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.Key
	}
	labels, err := client.HMGet(ctx, userLabelsKey, ids...).Result()
	if err != nil {
		return r.wrap(err)
	}
	for i, label := range labels {
		if s, ok := label.(string); ok && s != "" {
			results[i].Key = s
		}
	}
	return nil
}

// Write applies the whole batch as one MULTI/EXEC transaction: an order's
// hash and its running totals become visible together or not at all.
func (r *Redis) Write(ctx context.Context, batch backend.Batch) (int, error) {
	client, err := r.connect()
	if err != nil {
		return 0, err
	}

	pipe := client.TxPipeline()
	orders := make([][]redis.Cmder, len(batch))
	for i, o := range batch {
		userID := strconv.FormatInt(o.UserID, 10)
		orders[i] = []redis.Cmder{
			pipe.HSet(ctx, orderKey(o.ID),
				"user_id", o.UserID,
				"user_name", o.UserName,
				"city", o.City,
				"items", len(o.Items),
				"total_amount", o.TotalAmount,
				"order_date", o.OrderDate.Format(time.RFC3339),
			),
			pipe.ZIncrBy(ctx, aggKey(GroupCity, "sum"), o.TotalAmount, o.City),
			pipe.ZIncrBy(ctx, aggKey(GroupCity, "count"), 1, o.City),
			pipe.ZIncrBy(ctx, aggKey(GroupUser, "sum"), o.TotalAmount, userID),
			pipe.ZIncrBy(ctx, aggKey(GroupUser, "count"), 1, userID),
			pipe.HSet(ctx, userLabelsKey, userID, UserLabel(o.UserName, o.City)),
		}
	}

	_, execErr := pipe.Exec(ctx)
	if execErr != nil && isRedisConnErr(execErr) {
		return 0, r.wrap(execErr)
	}

	written, firstErr := countOrders(orders)
	if firstErr == nil && execErr != nil {
		return 0, execErr
	}
	return backend.WriteResult(written, len(batch), firstErr)
}

// countOrders counts orders whose every command succeeded. An aborted
// transaction fails every command, so nothing is counted.
func countOrders(orders [][]redis.Cmder) (int, error) {
	written := 0
	var firstErr error
	for _, cmds := range orders {
		ok := true
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				ok = false
			}
		}
		if ok {
			written++
		}
	}
	return written, firstErr
}

func (r *Redis) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	return backend.Probe(ctx, r.name, timeout, func(ctx context.Context) error {
		client, err := r.connect()
		if err != nil {
			return err
		}
		return client.Ping(ctx).Err()
	}, ClassifyRedis)
}

func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func isRedisConnErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, redis.ErrPoolTimeout)
}

func (r *Redis) wrap(err error) error {
	if isRedisConnErr(err) {
		return backend.Unavailable(r.name, err)
	}
	return err
}

// ClassifyRedis treats a server still loading its dataset as refusing
// service.
func ClassifyRedis(err error) backend.FailureKind {
	if errors.Is(err, redis.ErrPoolTimeout) {
		return backend.FailureTimeout
	}
	if errors.Is(err, redis.ErrClosed) || strings.HasPrefix(err.Error(), "LOADING") {
		return backend.FailureRefused
	}
	return backend.FailureNone
}
