package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/apostoltudor/bdnsv/internal/backend"
)

type orderItemDocument struct {
	ProductID int64   `bson:"product_id"`
	Name      string  `bson:"name"`
	Price     float64 `bson:"price"`
}

// orderDocument embeds user snapshots so aggregates need no lookup.
type orderDocument struct {
	OrderID   string              `bson:"order_id"`
	UserID    int64               `bson:"user_id"`
	UserName  string              `bson:"user_name_snapshot"`
	UserCity  string              `bson:"user_city_snapshot"`
	Items     []orderItemDocument `bson:"items"`
	Total     float64             `bson:"total_amount"`
	OrderDate time.Time           `bson:"order_date"`
}

type groupDocument struct {
	ID    any     `bson:"_id"`
	Value float64 `bson:"value"`
	Count int64   `bson:"count"`
	Name  string  `bson:"name"`
	City  string  `bson:"city"`
}

type Mongo struct {
	name       string
	url        string
	dbName     string
	writeProbe bool
	pings      atomic.Int64

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

func NewMongo(name, connectionString, dbName string, writeProbe bool) *Mongo {
	return &Mongo{name: name, url: connectionString, dbName: dbName, writeProbe: writeProbe}
}

func (m *Mongo) Name() string { return m.name }

func (m *Mongo) Supports(op backend.Operation) bool { return supportsGrouped(op) }

func (m *Mongo) connect() (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return m.db, nil
	}

	opts := options.Client().
		ApplyURI(m.url).
		SetServerSelectionTimeout(time.Second).
		SetConnectTimeout(5 * time.Second)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	m.client = client
	m.db = client.Database(m.dbName)
	return m.db, nil
}

// productFilter accepts both the numeric ids shared with the relational
// store and native ObjectID hex strings.
func productFilter(key string) (bson.M, bool) {
	if id, ok := parseIntKey(key); ok {
		return bson.M{"_id": id}, true
	}
	if oid, err := bson.ObjectIDFromHex(key); err == nil {
		return bson.M{"_id": oid}, true
	}
	return nil, false
}

// ResolveKeys maps product numbers onto the collection's own ids: product n
// is the n-th document in _id order, which is how fixtures loaded with
// generated ObjectIDs line up with the relational store's serial ids.
func (m *Mongo) ResolveKeys(ctx context.Context, keys []string) ([]string, error) {
	var limit int64
	for _, key := range keys {
		if n, ok := parseIntKey(key); ok {
			limit = max(limit, n)
		}
	}
	if limit == 0 {
		return slices.Clone(keys), nil
	}

	db, err := m.connect()
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	cursor, err := db.Collection("products").Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, m.wrap(err)
	}
	var docs []struct {
		ID any `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, m.wrap(err)
	}

	ids := make([]any, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return positionalKeys(keys, ids), nil
}

// positionalKeys replaces each product number n with the n-th id. Keys that
// are not numbers, or point past the end, are kept as given.
func positionalKeys(keys []string, ids []any) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = key
		n, ok := parseIntKey(key)
		if !ok || n > int64(len(ids)) {
			continue
		}
		switch id := ids[n-1].(type) {
		case bson.ObjectID:
			out[i] = id.Hex()
		case int32:
			out[i] = strconv.FormatInt(int64(id), 10)
		case int64:
			out[i] = strconv.FormatInt(id, 10)
		case float64:
			out[i] = strconv.FormatInt(int64(id), 10)
		}
	}
	return out
}

func (m *Mongo) PointLookup(ctx context.Context, key string) (backend.Record, error) {
	filter, ok := productFilter(key)
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	db, err := m.connect()
	if err != nil {
		return backend.Record{}, err
	}

	var doc bson.M
	if err := db.Collection("products").FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return backend.Record{}, backend.ErrNotFound
		}
		return backend.Record{}, m.wrap(err)
	}
	delete(doc, "_id")
	return backend.Record{Key: key, Fields: doc}, nil
}

// BuildPipeline renders the grouped top-N aggregation over order documents.
func BuildPipeline(spec backend.AggregateSpec) (mongo.Pipeline, error) {
	if err := validateGroup(spec); err != nil {
		return nil, err
	}

	var acc bson.D
	switch spec.Func {
	case backend.FuncSum:
		acc = bson.D{{Key: "$sum", Value: "$total_amount"}}
	case backend.FuncAvg:
		acc = bson.D{{Key: "$avg", Value: "$total_amount"}}
	case backend.FuncCount:
		acc = bson.D{{Key: "$sum", Value: 1}}
	default:
		return nil, fmt.Errorf("%w: func %q", backend.ErrUnsupported, spec.Func)
	}

	group := bson.D{
		{Key: "value", Value: acc},
		{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
	}
	switch spec.GroupKey {
	case GroupCity:
		group = append(bson.D{{Key: "_id", Value: "$user_city_snapshot"}}, group...)
	case GroupUser:
		group = append(bson.D{{Key: "_id", Value: "$user_id"}}, group...)
		group = append(group,
			bson.E{Key: "name", Value: bson.D{{Key: "$first", Value: "$user_name_snapshot"}}},
			bson.E{Key: "city", Value: bson.D{{Key: "$first", Value: "$user_city_snapshot"}}},
		)
	}

	return mongo.Pipeline{
		{{Key: "$group", Value: group}},
		{{Key: "$sort", Value: bson.D{{Key: "value", Value: -1}}}},
		{{Key: "$limit", Value: int64(spec.TopN)}},
	}, nil
}

func (m *Mongo) Aggregate(ctx context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	pipeline, err := BuildPipeline(spec)
	if err != nil {
		return nil, err
	}
	db, err := m.connect()
	if err != nil {
		return nil, err
	}

	cursor, err := db.Collection("orders").Aggregate(ctx, pipeline)
	if err != nil {
		return nil, m.wrap(err)
	}
	var docs []groupDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, m.wrap(err)
	}

	results := make([]backend.GroupResult, 0, len(docs))
	for _, d := range docs {
		key := fmt.Sprint(d.ID)
		if spec.GroupKey == GroupUser {
			key = UserLabel(d.Name, d.City)
		}
		results = append(results, backend.GroupResult{Key: key, Value: d.Value, Count: d.Count})
	}
	return results, nil
}

func toOrderDocument(o backend.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemDocument{ProductID: it.ProductID, Name: it.Name, Price: it.Price}
	}
	return orderDocument{
		OrderID:   o.ID,
		UserID:    o.UserID,
		UserName:  o.UserName,
		UserCity:  o.City,
		Items:     items,
		Total:     o.TotalAmount,
		OrderDate: o.OrderDate,
	}
}

// Write inserts unordered so one bad document does not stop the rest.
func (m *Mongo) Write(ctx context.Context, batch backend.Batch) (int, error) {
	db, err := m.connect()
	if err != nil {
		return 0, err
	}

	docs := make([]any, len(batch))
	for i, o := range batch {
		docs[i] = toOrderDocument(o)
	}

	res, err := db.Collection("orders").InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return backend.WriteResult(len(res.InsertedIDs), len(batch), nil)
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return backend.WriteResult(len(batch)-len(bwe.WriteErrors), len(batch), err)
	}
	return 0, m.wrap(err)
}

// HealthProbe pings, or with write probing inserts a marker into
// chaos_logs so a read-only primary also counts as a failure.
func (m *Mongo) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	return backend.Probe(ctx, m.name, timeout, func(ctx context.Context) error {
		db, err := m.connect()
		if err != nil {
			return err
		}
		if !m.writeProbe {
			return db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
		}
		_, err = db.Collection("chaos_logs").InsertOne(ctx, bson.D{
			{Key: "ping", Value: m.pings.Add(1)},
			{Key: "time", Value: time.Now().UTC()},
		})
		return err
	}, ClassifyMongo)
}

func (m *Mongo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.db = nil
	return err
}

func (m *Mongo) wrap(err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return backend.Unavailable(m.name, err)
	}
	var sse mongo.ServerError
	if errors.As(err, &sse) && sse.HasErrorLabel("RetryableWriteError") {
		return backend.Unavailable(m.name, err)
	}
	return err
}

// ClassifyMongo looks through server selection failures, which is how the
// driver reports an unreachable deployment, for a refused dial.
func ClassifyMongo(err error) backend.FailureKind {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return backend.FailureRefused
	}
	// A server selection timeout carries the refused dial as text only.
	if strings.Contains(err.Error(), "connection refused") {
		return backend.FailureRefused
	}
	if mongo.IsTimeout(err) {
		return backend.FailureTimeout
	}
	if mongo.IsNetworkError(err) {
		return backend.FailureRefused
	}
	return backend.FailureNone
}
