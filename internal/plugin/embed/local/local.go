package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/recallstack/memory-infra/internal/config"
	registryembed "github.com/recallstack/memory-infra/internal/registry/embed"
)

const (
	modelName        = "hashed-bow"
	defaultDimension = 512
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registryembed.Embedder, error) {
			dim := defaultDimension
			if cfg := config.FromContext(ctx); cfg != nil && cfg.EmbeddingDimension > 0 {
				dim = cfg.EmbeddingDimension
			}
			return &LocalEmbedder{dim: dim}, nil
		},
	})
}

// LocalEmbedder is a deterministic offline embedder: each token is hashed
// into one of dim buckets and the resulting count vector is L2-normalized.
// Identical text always yields an identical vector.
type LocalEmbedder struct {
	dim int
}

// New returns a LocalEmbedder with the given dimension.
func New(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = defaultDimension
	}
	return &LocalEmbedder{dim: dim}
}

func (e *LocalEmbedder) ModelName() string {
	return modelName
}

func (e *LocalEmbedder) Dimension() int {
	return e.dim
}

func (e *LocalEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = e.embedOne(text)
	}
	return results, nil
}

func (e *LocalEmbedder) embedOne(text string) []float32 {
	vector := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		i := int(h.Sum64() % uint64(e.dim))
		vector[i] += 1
	}
	norm := float32(0)
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func tokenize(text string) []string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil
	}
	return strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsNumber(r))
	})
}

var _ registryembed.Embedder = (*LocalEmbedder)(nil)
