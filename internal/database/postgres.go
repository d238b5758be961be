package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

type Postgres struct {
	name string
	url  string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewPostgres(name, connectionString string) *Postgres {
	return &Postgres{name: name, url: connectionString}
}

func (p *Postgres) Name() string { return p.name }

func (p *Postgres) Supports(op backend.Operation) bool { return supportsGrouped(op) }

// connect builds the pool on first use. pgxpool dials lazily, so a backend
// that is down at startup is picked up once it comes back.
func (p *Postgres) connect(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		return p.pool, nil
	}

	cfg, err := pgxpool.ParseConfig(p.url)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid connection string: %w", p.name, err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 0
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, backend.Unavailable(p.name, err)
	}
	p.pool = pool
	return pool, nil
}

const productByIDSQL = `SELECT id, name, category, price::float8 AS price FROM products WHERE id = $1`

func (p *Postgres) PointLookup(ctx context.Context, key string) (backend.Record, error) {
	id, ok := parseIntKey(key)
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	pool, err := p.connect(ctx)
	if err != nil {
		return backend.Record{}, err
	}

	rows, err := pool.Query(ctx, productByIDSQL, id)
	if err != nil {
		return backend.Record{}, p.wrap(err)
	}
	fields, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return backend.Record{}, backend.ErrNotFound
		}
		return backend.Record{}, p.wrap(err)
	}
	return backend.Record{Key: key, Fields: fields}, nil
}

// BuildAggregateSQL renders a grouped top-N query over users joined with
// orders. Only whitelisted group keys and metrics reach the SQL text; the
// limit is always bound as $1.
func BuildAggregateSQL(spec backend.AggregateSpec) (string, error) {
	if err := validateGroup(spec); err != nil {
		return "", err
	}

	var agg string
	switch spec.Func {
	case backend.FuncSum:
		agg = "SUM(o.total_amount)"
	case backend.FuncAvg:
		agg = "AVG(o.total_amount)"
	case backend.FuncCount:
		agg = "COUNT(o.id)"
	default:
		return "", fmt.Errorf("%w: func %q", backend.ErrUnsupported, spec.Func)
	}

	var key, groupBy string
	switch spec.GroupKey {
	case GroupCity:
		key, groupBy = "u.city", "u.city"
	case GroupUser:
		key, groupBy = "u.name || ' (' || u.city || ')'", "u.id, u.name, u.city"
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(key)
	sb.WriteString(" AS key, ")
	sb.WriteString(agg)
	sb.WriteString("::float8 AS value, COUNT(o.id) AS count FROM users u JOIN orders o ON u.id = o.user_id GROUP BY ")
	sb.WriteString(groupBy)
	sb.WriteString(" ORDER BY value DESC LIMIT $1")
	return sb.String(), nil
}

func (p *Postgres) Aggregate(ctx context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	query, err := BuildAggregateSQL(spec)
	if err != nil {
		return nil, err
	}
	pool, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, spec.TopN)
	if err != nil {
		return nil, p.wrap(err)
	}
	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[backend.GroupResult])
	if err != nil {
		return nil, p.wrap(err)
	}
	return results, nil
}

const insertOrderSQL = `INSERT INTO orders (user_id, total_amount, order_date) VALUES ($1, $2, $3)`

// Write queues one insert per order in a single batch round trip. The
// server runs a batch as one implicit transaction, so it lands whole or not
// at all.
func (p *Postgres) Write(ctx context.Context, batch backend.Batch) (int, error) {
	pool, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}

	b := &pgx.Batch{}
	for _, o := range batch {
		b.Queue(insertOrderSQL, o.UserID, o.TotalAmount, o.OrderDate)
	}

	br := pool.SendBatch(ctx, b)
	execErrs := make([]error, 0, len(batch))
	for range batch {
		_, err := br.Exec()
		execErrs = append(execErrs, err)
	}
	written, err := batchOutcome(len(batch), execErrs, br.Close())
	return written, p.wrap(err)
}

// batchOutcome folds the results of an implicit-transaction batch: one
// failed statement rolls back every statement before it.
func batchOutcome(attempted int, execErrs []error, closeErr error) (int, error) {
	for _, err := range execErrs {
		if err != nil {
			return 0, err
		}
	}
	if closeErr != nil {
		return 0, closeErr
	}
	return attempted, nil
}

func (p *Postgres) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	return backend.Probe(ctx, p.name, timeout, func(ctx context.Context) error {
		pool, err := p.connect(ctx)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, "SELECT 1")
		return p.wrap(err)
	}, ClassifyPostgres)
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
	return nil
}

func (p *Postgres) wrap(err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return backend.Unavailable(p.name, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && isPostgresUnavailable(pgErr.Code) {
		return backend.Unavailable(p.name, err)
	}
	return err
}

// isPostgresUnavailable covers SQLSTATE class 08 (connection exception) and
// the server-side shutdown and startup codes.
func isPostgresUnavailable(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "57P01", "57P02", "57P03":
		return true
	}
	return false
}

func ClassifyPostgres(err error) backend.FailureKind {
	if pgconn.Timeout(err) {
		return backend.FailureTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isPostgresUnavailable(pgErr.Code) {
			return backend.FailureRefused
		}
		return backend.FailureProtocolError
	}
	return backend.FailureNone
}
