package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/embed"
)

// productNamespace derives stable object IDs from product IDs so repeated
// writes of the same product overwrite one object.
var productNamespace = uuid.MustParse("9b1d5c2e-5f43-4f0e-9a7c-2f1f6f4f8a10")

// Weaviate is the second vector store. It mirrors Qdrant: similarity search
// only, products keyed by productId.
type Weaviate struct {
	name     string
	class    string
	embedder embed.Embedder
	client   *weaviate.Client
}

func NewWeaviate(name, rawURL, class string, embedder embed.Embedder) (*Weaviate, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%s: invalid weaviate url %q", name, rawURL)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:             u.Host,
		Scheme:           scheme,
		ConnectionClient: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: create weaviate client: %w", name, err)
	}
	return &Weaviate{name: name, class: class, embedder: embedder, client: client}, nil
}

func (w *Weaviate) Name() string { return w.name }

func (w *Weaviate) Supports(op backend.Operation) bool {
	return supportsSimilarity(op, w.embedder != nil)
}

func ProductUUID(productID int64) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(productNamespace, []byte(strconv.FormatInt(productID, 10))).String())
}

type weaviateHit struct {
	ProductID  int64   `json:"productId"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Additional struct {
		Distance float64 `json:"distance"`
	} `json:"_additional"`
}

type weaviateGetResponse struct {
	Get map[string][]weaviateHit `json:"Get"`
}

func (w *Weaviate) hits(resp *models.GraphQLResponse) ([]weaviateHit, error) {
	if resp == nil {
		return nil, errors.New("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", resp.Errors[0].Message)
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var parsed weaviateGetResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal graphql data: %w", err)
	}
	return parsed.Get[w.class], nil
}

var productFields = []graphql.Field{
	{Name: "productId"},
	{Name: "name"},
	{Name: "price"},
}

func (w *Weaviate) PointLookup(ctx context.Context, key string) (backend.Record, error) {
	id, ok := parseIntKey(key)
	if !ok {
		return backend.Record{}, backend.ErrNotFound
	}

	where := filters.Where().
		WithPath([]string{"productId"}).
		WithOperator(filters.Equal).
		WithValueInt(id)

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(productFields...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return backend.Record{}, w.wrap(err)
	}
	hits, err := w.hits(resp)
	if err != nil {
		return backend.Record{}, err
	}
	if len(hits) == 0 {
		return backend.Record{}, backend.ErrNotFound
	}

	h := hits[0]
	return backend.Record{Key: key, Fields: map[string]any{
		"id":    h.ProductID,
		"name":  h.Name,
		"price": h.Price,
	}}, nil
}

func (w *Weaviate) Aggregate(ctx context.Context, spec backend.AggregateSpec) ([]backend.GroupResult, error) {
	if spec.GroupKey != "" || len(spec.Vector) == 0 {
		return nil, fmt.Errorf("%w: %s only ranks by vector similarity", backend.ErrUnsupported, w.name)
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(spec.Vector)
	fields := append(slices.Clone(productFields), graphql.Field{
		Name:   "_additional",
		Fields: []graphql.Field{{Name: "distance"}},
	})

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(spec.TopN).
		Do(ctx)
	if err != nil {
		return nil, w.wrap(err)
	}
	hits, err := w.hits(resp)
	if err != nil {
		return nil, err
	}

	results := make([]backend.GroupResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, backend.GroupResult{
			Key:   h.Name,
			Value: 1 - h.Additional.Distance,
			Count: 1,
		})
	}
	return results, nil
}

// Write imports one object per distinct product. An order counts as
// written when every one of its products was stored.
func (w *Weaviate) Write(ctx context.Context, batch backend.Batch) (int, error) {
	if w.embedder == nil {
		return 0, fmt.Errorf("%w: %s has no embedder for writes", backend.ErrUnsupported, w.name)
	}

	seen := make(map[int64]struct{})
	objects := make([]*models.Object, 0, len(batch))
	for _, o := range batch {
		for _, item := range o.Items {
			if _, ok := seen[item.ProductID]; ok {
				continue
			}
			seen[item.ProductID] = struct{}{}

			vec, err := w.embedder.Embed(ctx, item.Name)
			if err != nil {
				return 0, fmt.Errorf("embed %q: %w", item.Name, err)
			}
			objects = append(objects, &models.Object{
				Class:  w.class,
				ID:     ProductUUID(item.ProductID),
				Vector: vec,
				Properties: map[string]interface{}{
					"productId": item.ProductID,
					"name":      item.Name,
					"price":     item.Price,
				},
			})
		}
	}
	if len(objects) == 0 {
		return len(batch), nil
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, w.wrap(err)
	}

	failed := make(map[strfmt.UUID]string)
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			continue
		}
		msg := "unknown status"
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			msg = item.Result.Errors.Error[0].Message
		}
		failed[item.ID] = msg
	}

	written := 0
	var firstErr error
	for _, o := range batch {
		ok := true
		for _, item := range o.Items {
			if msg, bad := failed[ProductUUID(item.ProductID)]; bad {
				ok = false
				if firstErr == nil {
					firstErr = fmt.Errorf("product %d: %s", item.ProductID, msg)
				}
			}
		}
		if ok {
			written++
		}
	}
	return backend.WriteResult(written, len(batch), firstErr)
}

func (w *Weaviate) HealthProbe(ctx context.Context, timeout time.Duration) backend.ProbeResult {
	return backend.Probe(ctx, w.name, timeout, func(ctx context.Context) error {
		ready, err := w.client.Misc().ReadyChecker().Do(ctx)
		if err != nil {
			return w.wrap(err)
		}
		if !ready {
			return backend.Unavailable(w.name, errors.New("weaviate is not ready"))
		}
		return nil
	}, ClassifyWeaviate)
}

// Close is a no-op; the client holds no long-lived connections of its own.
func (w *Weaviate) Close() error { return nil }

func (w *Weaviate) wrap(err error) error {
	var clientErr *fault.WeaviateClientError
	if errors.As(err, &clientErr) && (clientErr.DerivedFromError != nil || clientErr.StatusCode == http.StatusServiceUnavailable) {
		return backend.Unavailable(w.name, err)
	}
	return err
}

func ClassifyWeaviate(err error) backend.FailureKind {
	var clientErr *fault.WeaviateClientError
	if !errors.As(err, &clientErr) {
		return backend.FailureNone
	}
	if clientErr.DerivedFromError != nil {
		if kind := backend.Classify(clientErr.DerivedFromError); kind != backend.FailureProtocolError {
			return kind
		}
		return backend.FailureRefused
	}
	switch clientErr.StatusCode {
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return backend.FailureRefused
	case http.StatusGatewayTimeout:
		return backend.FailureTimeout
	default:
		return backend.FailureProtocolError
	}
}
