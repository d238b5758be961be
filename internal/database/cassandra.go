package database

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

// Cassandra stores orders twice, partitioned by city and by user, because
// GROUP BY is only allowed on partition key columns.
type Cassandra struct {
	name          string
	contactPoints []string
	localDC       string
	keyspace      string

	mu      sync.Mutex
	session *gocql.Session
}

func NewCassandra(name string, contactPoints []string, localDC, keyspace string) *Cassandra {
	return &Cassandra{
		name:          name,
		contactPoints: contactPoints,
		localDC:       localDC,
		keyspace:      keyspace,
	}
}

func (c *Cassandra) Name() string { return c.name }

func (c *Cassandra) Supports(op backend.Operation) bool { return supportsGrouped(op) }

// connect retries session creation on every call until it succeeds; gocql
// dials eagerly, so a cluster that is down at startup fails here.
func (c *Cassandra) connect() (*gocql.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}

	cluster := gocql.NewCluster(c.contactPoints...)
	cluster.Keyspace = c.keyspace
	cluster.Consistency = gocql.Quorum
	cluster.ConnectTimeout = 2 * time.Second
	cluster.Timeout = 5 * time.Second
	cluster.DisableInitialHostLookup = true
	if c.localDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.DCAwareRoundRobinPolicy(c.localDC)
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, backend.Unavailable(c.name, err)
	}
	c.session = session
	return session, nil
}

const cqlProductByID = `SELECT id, name, category, price FROM products WHERE id = ?`

func (c *Cassandra) PointLookup(ctx context.Context, key string) (backend.Record, error) {
	id, ok := parseIntKey(key)
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	session, err := c.connect()
	if err != nil {
		return backend.Record{}, err
	}

	fields := make(map[string]any)
	if err := session.Query(cqlProductByID, id).WithContext(ctx).MapScan(fields); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return backend.Record{}, backend.ErrNotFound
		}
		return backend.Record{}, c.wrap(err)
	}
	return backend.Record{Key: key, Fields: fields}, nil
}

// BuildAggregateCQL renders the per-partition aggregate. Cassandra cannot
// order by an aggregate, so ranking and the top-N cut happen client side.
func BuildAggregateCQL(spec backend.AggregateSpec) (string, error) {
	if err := validateGroup(spec); err != nil {
		return "", err
	}

	var agg string
	switch spec.Func {
	case backend.FuncSum:
		agg = "SUM(total_amount)"
	case backend.FuncAvg:
		agg = "AVG(total_amount)"
	case backend.FuncCount:
		agg = "CAST(COUNT(*) AS double)"
	default:
		return "", fmt.Errorf("%w: func %q", backend.ErrUnsupported, spec.Func)
	}

	switch spec.GroupKey {
	case GroupCity:
		return "SELECT city, " + agg + ", COUNT(*) FROM orders_by_city GROUP BY city", nil
	default:
		return "SELECT user_name, city, " + agg + ", COUNT(*) FROM orders_by_user GROUP BY user_id", nil
	}
}

func (c *Cassandra) Aggregate(ctx context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	query, err := BuildAggregateCQL(spec)
	if err != nil {
		return nil, err
	}
	session, err := c.connect()
	if err != nil {
		return nil, err
	}

	scanner := session.Query(query).WithContext(ctx).Iter().Scanner()
	var results []backend.GroupResult
	for scanner.Next() {
		var res backend.GroupResult
		if spec.GroupKey == GroupCity {
			err = scanner.Scan(&res.Key, &res.Value, &res.Count)
		} else {
			var name, city string
			err = scanner.Scan(&name, &city, &res.Value, &res.Count)
			res.Key = UserLabel(name, city)
		}
		if err != nil {
			return nil, c.wrap(err)
		}
		results = append(results, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, c.wrap(err)
	}

	slices.SortFunc(results, func(a, b backend.GroupResult) int { return cmp.Compare(b.Value, a.Value) })
	if len(results) > spec.TopN {
		results = results[:spec.TopN]
	}
	return results, nil
}

const (
	cqlInsertByCity = `INSERT INTO orders_by_city (city, order_id, user_id, user_name, total_amount, order_date) VALUES (?, ?, ?, ?, ?, ?)`
	cqlInsertByUser = `INSERT INTO orders_by_user (user_id, order_id, user_name, city, total_amount, order_date) VALUES (?, ?, ?, ?, ?, ?)`
)

// Write sends one unlogged batch per order covering both tables, so an
// order is either in both partitions or counted as failed.
func (c *Cassandra) Write(ctx context.Context, batch backend.Batch) (int, error) {
	session, err := c.connect()
	if err != nil {
		return 0, err
	}

	written := 0
	var firstErr error
	for _, o := range batch {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		orderID, err := gocql.ParseUUID(o.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("order %q: %w", o.ID, err)
			}
			continue
		}

		b := session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		b.Query(cqlInsertByCity, o.City, orderID, o.UserID, o.UserName, o.TotalAmount, o.OrderDate)
		b.Query(cqlInsertByUser, o.UserID, orderID, o.UserName, o.City, o.TotalAmount, o.OrderDate)
		if err := session.ExecuteBatch(b); err != nil {
			if firstErr == nil {
				firstErr = c.wrap(err)
			}
			continue
		}
		written++
	}
	return backend.WriteResult(written, len(batch), firstErr)
}

func (c *Cassandra) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	return backend.Probe(ctx, c.name, timeout, func(ctx context.Context) error {
		session, err := c.connect()
		if err != nil {
			return err
		}
		return session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
	}, ClassifyCassandra)
}

func (c *Cassandra) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	return nil
}

func isCassandraUnavailable(err error) bool {
	var unavailable *gocql.RequestErrUnavailable
	return errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, gocql.ErrSessionClosed) ||
		errors.Is(err, gocql.ErrConnectionClosed) ||
		errors.As(err, &unavailable)
}

func (c *Cassandra) wrap(err error) error {
	if isCassandraUnavailable(err) || errors.Is(err, gocql.ErrTimeoutNoResponse) {
		return backend.Unavailable(c.name, err)
	}
	return err
}

func ClassifyCassandra(err error) backend.FailureKind {
	var readTimeout *gocql.RequestErrReadTimeout
	var writeTimeout *gocql.RequestErrWriteTimeout
	if errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.As(err, &readTimeout) || errors.As(err, &writeTimeout) {
		return backend.FailureTimeout
	}
	if isCassandraUnavailable(err) {
		return backend.FailureRefused
	}
	return backend.FailureNone
}
