// Package embed turns query text into the vectors that similarity-search
// backends rank against.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"

	"github.com/apostoltudor/bdnsv/internal/config"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

var ErrEmptyText = errors.New("embed: empty text")

// Hashing is a feature-hashing embedder: each token and adjacent token pair
// lands in a murmur3-selected bucket with a hash-derived sign. The result is
// L2-normalized, so cosine similarity reflects shared vocabulary.
type Hashing struct {
	dim int
}

func NewHashing(dim int) *Hashing {
	if dim <= 0 {
		dim = config.DefaultDimensions
	}
	return &Hashing{dim: dim}
}

func (h *Hashing) Dimensions() int {
	return h.dim
}

func (h *Hashing) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}

	vec := make([]float64, h.dim)
	add := func(feature string, weight float64) {
		sum := murmur3.Sum64([]byte(feature))
		idx := sum % uint64(h.dim)
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}

	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	return normalize(vec), nil
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float64) []float32 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// Cosine is exposed for tests and for sanity-checking vector backends.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// New picks the embedder named by cfg.
func New(cfg config.EmbeddingConfig, env *config.Env) (Embedder, error) {
	switch cfg.Provider {
	case "", "hashing":
		return NewHashing(cfg.Dimensions), nil
	case "openai":
		if env == nil || env.OpenAIAPIKey == "" {
			return nil, errors.New("embed: openai provider needs OPENAI_API_KEY")
		}
		return NewOpenAI(env.OpenAIAPIKey, env.OpenAIBaseURL, cfg.Model, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", cfg.Provider)
	}
}
