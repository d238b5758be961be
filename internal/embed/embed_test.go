package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apostoltudor/bdnsv/internal/config"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"cheap", "device", "for", "office", "work"}, Tokenize("Cheap device, for OFFICE-work!"))
	assert.Empty(t, Tokenize("  ...  "))
}

func TestHashingDeterministic(t *testing.T) {
	h := NewHashing(384)
	a, err := h.Embed(context.Background(), "luxury item expensive")
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), "luxury item expensive")
	require.NoError(t, err)

	assert.Len(t, a, 384)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
}

func TestHashingSimilarity(t *testing.T) {
	h := NewHashing(384)
	ctx := context.Background()
	query, _ := h.Embed(ctx, "cheap device for office work")
	near, _ := h.Embed(ctx, "cheap office device")
	far, _ := h.Embed(ctx, "luxury watch")

	assert.Greater(t, Cosine(query, near), Cosine(query, far))
}

func TestHashingEmpty(t *testing.T) {
	_, err := NewHashing(8).Embed(context.Background(), " ,, ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHashingDefaultDimensions(t *testing.T) {
	assert.Equal(t, config.DefaultDimensions, NewHashing(0).Dimensions())
}

func TestHashingUnitNormProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	h := NewHashing(64)
	properties.Property("non-empty text embeds to a unit vector", prop.ForAll(
		func(word string) bool {
			vec, err := h.Embed(context.Background(), "w"+word)
			if err != nil {
				return false
			}
			var norm float64
			for _, v := range vec {
				norm += float64(v) * float64(v)
			}
			return math.Abs(norm-1) < 1e-4
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestCosineMismatched(t *testing.T) {
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestNewProviders(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "hashing", Dimensions: 16}, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, e.Dimensions())

	_, err = New(config.EmbeddingConfig{Provider: "openai", Dimensions: 16}, &config.Env{})
	assert.ErrorContains(t, err, "OPENAI_API_KEY")

	_, err = New(config.EmbeddingConfig{Provider: "word2vec"}, nil)
	assert.Error(t, err)
}

func TestOpenAIEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": []float32{0.6, 0.8, 0}},
			},
		})
	}))
	defer srv.Close()

	o := NewOpenAI("key", srv.URL, "test-model", 3)
	vec, err := o.Embed(context.Background(), "office chair")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8, 0}, vec)

	wrongDim := NewOpenAI("key", srv.URL, "test-model", 4)
	_, err = wrongDim.Embed(context.Background(), "office chair")
	assert.ErrorContains(t, err, "expected 4 dimensions")
}
