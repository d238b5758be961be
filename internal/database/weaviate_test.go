package database

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"

	"github.com/apostoltudor/bdnsv/internal/backend"
	"github.com/apostoltudor/bdnsv/internal/embed"
)

func weaviateServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/.well-known/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/meta", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version":"1.35.2"}`))
	})
	mux.HandleFunc("/v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		query := string(body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(query, "nearVector"):
			_, _ = w.Write([]byte(`{"data":{"Get":{"Product":[
				{"productId":7,"name":"Office Laptop","price":899.5,"_additional":{"distance":0.1}},
				{"productId":9,"name":"Desk Lamp","price":25,"_additional":{"distance":0.4}}
			]}}}`))
		case strings.Contains(query, "999"):
			_, _ = w.Write([]byte(`{"data":{"Get":{"Product":[]}}}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"Get":{"Product":[{"productId":7,"name":"Office Laptop","price":899.5}]}}}`))
		}
	})
	mux.HandleFunc("/v1/batch/objects", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Objects []map[string]any `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		out := make([]map[string]any, 0, len(req.Objects))
		for _, obj := range req.Objects {
			result := map[string]any{"status": "SUCCESS"}
			if props, _ := obj["properties"].(map[string]any); props["name"] == "Broken" {
				result = map[string]any{
					"status": "FAILED",
					"errors": map[string]any{"error": []map[string]any{{"message": "vector length mismatch"}}},
				}
			}
			out = append(out, map[string]any{"id": obj["id"], "class": obj["class"], "result": result})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWeaviateAdapter(t *testing.T) {
	srv := weaviateServer(t)
	w, err := NewWeaviate("weaviate", srv.URL, "Product", embed.NewHashing(8))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("lookup", func(t *testing.T) {
		rec, err := w.PointLookup(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, "Office Laptop", rec.Fields["name"])

		_, err = w.PointLookup(ctx, "999")
		assert.ErrorIs(t, err, backend.ErrNotFound)
	})

	t.Run("search scores are similarities", func(t *testing.T) {
		res, err := w.Aggregate(ctx, backend.AggregateSpec{TopN: 2, Vector: []float32{1, 0}})
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "Office Laptop", res[0].Key)
		assert.InDelta(t, 0.9, res[0].Value, 1e-9)
		assert.InDelta(t, 0.6, res[1].Value, 1e-9)
	})

	t.Run("partial write", func(t *testing.T) {
		n, err := w.Write(ctx, backend.Batch{
			{ID: "a", Items: []backend.OrderItem{{ProductID: 1, Name: "Laptop"}}},
			{ID: "b", Items: []backend.OrderItem{{ProductID: 2, Name: "Broken"}}},
		})
		assert.Equal(t, 1, n)
		var partial *backend.PartialWriteError
		require.ErrorAs(t, err, &partial)
		assert.Equal(t, 2, partial.Attempted)
		assert.Contains(t, err.Error(), "vector length mismatch")
	})

	t.Run("probe", func(t *testing.T) {
		res := w.HealthProbe(ctx, time.Second)
		assert.True(t, res.OK, res.Err)
	})
}

func TestProductUUIDStable(t *testing.T) {
	assert.Equal(t, ProductUUID(42), ProductUUID(42))
	assert.NotEqual(t, ProductUUID(42), ProductUUID(43))
}

func TestClassifyWeaviate(t *testing.T) {
	assert.Equal(t, backend.FailureRefused, ClassifyWeaviate(&fault.WeaviateClientError{DerivedFromError: errors.New("dial tcp: refused")}))
	assert.Equal(t, backend.FailureTimeout, ClassifyWeaviate(&fault.WeaviateClientError{DerivedFromError: context.DeadlineExceeded}))
	assert.Equal(t, backend.FailureRefused, ClassifyWeaviate(&fault.WeaviateClientError{IsUnexpectedStatusCode: true, StatusCode: http.StatusServiceUnavailable}))
	assert.Equal(t, backend.FailureProtocolError, ClassifyWeaviate(&fault.WeaviateClientError{IsUnexpectedStatusCode: true, StatusCode: http.StatusUnprocessableEntity}))
	assert.Equal(t, backend.FailureNone, ClassifyWeaviate(errors.New("plain")))
}
