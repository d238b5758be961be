package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	qpb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/embed"
)

// Qdrant answers aggregates by similarity: the query vector is searched
// against product embeddings and scores stand in for group values.
type Qdrant struct {
	name       string
	collection string
	embedder   embed.Embedder
	logger     *slog.Logger

	conn   *grpc.ClientConn
	points qpb.PointsClient
	health qpb.QdrantClient
}

// NewQdrant creates the gRPC channel. The channel connects on first use, so
// an unreachable server is reported by the first call, not here.
func NewQdrant(name, addr, collection string, embedder embed.Embedder, logger *slog.Logger) (*Qdrant, error) {
	if addr == "" {
		return nil, fmt.Errorf("%s: qdrant address is empty", name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%s: create grpc client: %w", name, err)
	}
	logger.Debug("qdrant channel created", "addr", addr, "collection", collection)

	return &Qdrant{
		name:       name,
		collection: collection,
		embedder:   embedder,
		logger:     logger,
		conn:       conn,
		points:     qpb.NewPointsClient(conn),
		health:     qpb.NewQdrantClient(conn),
	}, nil
}

func (q *Qdrant) Name() string { return q.name }

func (q *Qdrant) Supports(op backend.Operation) bool {
	return supportsSimilarity(op, q.embedder != nil)
}

// pointID accepts the two id forms Qdrant stores: unsigned numbers and UUIDs.
func pointID(key string) (*qpb.PointId, bool) {
	if n, err := strconv.ParseUint(key, 10, 64); err == nil {
		return &qpb.PointId{PointIdOptions: &qpb.PointId_Num{Num: n}}, true
	}
	if id, err := uuid.Parse(key); err == nil {
		return &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: id.String()}}, true
	}
	return nil, false
}

func withPayload() *qpb.WithPayloadSelector {
	return &qpb.WithPayloadSelector{SelectorOptions: &qpb.WithPayloadSelector_Enable{Enable: true}}
}

func (q *Qdrant) PointLookup(ctx context.Context, key string) (backend.Record, error) {
	id, ok := pointID(key)
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}
	resp, err := q.points.Get(ctx, &qpb.GetPoints{
		CollectionName: q.collection,
		Ids:            []*qpb.PointId{id},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return backend.Record{}, q.wrap(err)
	}
	if len(resp.GetResult()) == 0 {
		return backend.Record{}, backend.ErrNotFound
	}
	return backend.Record{Key: key, Fields: payloadFields(resp.GetResult()[0].GetPayload())}, nil
}

func (q *Qdrant) Aggregate(ctx context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	if spec.GroupKey != "" || len(spec.Vector) == 0 {
		return nil, fmt.Errorf("%w: %s only ranks by vector similarity", backend.ErrUnsupported, q.name)
	}

	resp, err := q.points.Search(ctx, &qpb.SearchPoints{
		CollectionName: q.collection,
		Vector:         spec.Vector,
		Limit:          uint64(spec.TopN),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, q.wrap(err)
	}

	results := make([]backend.GroupResult, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		results = append(results, backend.GroupResult{
			Key:   payloadName(p.GetPayload(), p.GetId()),
			Value: float64(p.GetScore()),
			Count: 1,
		})
	}
	return results, nil
}

// Write indexes the products referenced by the batch. Upserts are atomic
// per request, so the batch is either fully written or not at all.
func (q *Qdrant) Write(ctx context.Context, batch backend.Batch) (int, error) {
	if q.embedder == nil {
		return 0, fmt.Errorf("%w: %s has no embedder for writes", backend.ErrUnsupported, q.name)
	}

	seen := make(map[int64]struct{})
	points := make([]*qpb.PointStruct, 0, len(batch))
	for _, o := range batch {
		for _, item := range o.Items {
			if _, ok := seen[item.ProductID]; ok {
				continue
			}
			seen[item.ProductID] = struct{}{}

			vec, err := q.embedder.Embed(ctx, item.Name)
			if err != nil {
				return 0, fmt.Errorf("embed %q: %w", item.Name, err)
			}
			points = append(points, &qpb.PointStruct{
				Id: &qpb.PointId{PointIdOptions: &qpb.PointId_Num{Num: uint64(item.ProductID)}},
				Vectors: &qpb.Vectors{
					VectorsOptions: &qpb.Vectors_Vector{
						Vector: &qpb.Vector{Vector: &qpb.Vector_Dense{Dense: &qpb.DenseVector{Data: vec}}},
					},
				},
				Payload: map[string]*qpb.Value{
					"name":  {Kind: &qpb.Value_StringValue{StringValue: item.Name}},
					"price": {Kind: &qpb.Value_DoubleValue{DoubleValue: item.Price}},
				},
			})
		}
	}
	if len(points) == 0 {
		return len(batch), nil
	}

	wait := true
	if _, err := q.points.Upsert(ctx, &qpb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return 0, q.wrap(err)
	}
	return len(batch), nil
}

func (q *Qdrant) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	return backend.Probe(ctx, q.name, timeout, func(ctx context.Context) error {
		_, err := q.health.HealthCheck(ctx, &qpb.HealthCheckRequest{})
		return q.wrap(err)
	}, ClassifyQdrant)
}

func (q *Qdrant) Close() error {
	return q.conn.Close()
}

func (q *Qdrant) wrap(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.Unavailable {
		return backend.Unavailable(q.name, err)
	}
	return err
}

func ClassifyQdrant(err error) backend.FailureKind {
	// status.Code only inspects the outer error; unwrap to the grpc status.
	var se interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &se) {
		return backend.FailureNone
	}
	switch se.GRPCStatus().Code() {
	case codes.Unavailable:
		return backend.FailureRefused
	case codes.DeadlineExceeded:
		return backend.FailureTimeout
	case codes.OK, codes.Canceled:
		return backend.FailureNone
	default:
		return backend.FailureProtocolError
	}
}

func payloadFields(payload map[string]*qpb.Value) map[string]any {
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		fields[k] = valueToAny(v)
	}
	return fields
}

func valueToAny(v *qpb.Value) any {
	switch kind := v.GetKind().(type) {
	case *qpb.Value_StringValue:
		return kind.StringValue
	case *qpb.Value_DoubleValue:
		return kind.DoubleValue
	case *qpb.Value_IntegerValue:
		return kind.IntegerValue
	case *qpb.Value_BoolValue:
		return kind.BoolValue
	case *qpb.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, valueToAny(item))
		}
		return out
	case *qpb.Value_StructValue:
		return payloadFields(kind.StructValue.GetFields())
	default:
		return nil
	}
}

func payloadName(payload map[string]*qpb.Value, id *qpb.PointId) string {
	if name := payload["name"].GetStringValue(); name != "" {
		return name
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
