package retriever

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
)

const (
	hashDimensions   = 256
	defaultCacheSize = 4096
)

// Embedder turns text into a normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// NewEmbedder builds the configured embedder behind an LRU cache.
func NewEmbedder(cfg Config) (Embedder, error) {
	var base Embedder
	switch strings.ToLower(strings.TrimSpace(cfg.Embedder)) {
	case "", EmbedderHash:
		base = HashEmbedder{}
	case EmbedderOpenAI:
		envName := cfg.APIKeyEnv
		if envName == "" {
			envName = "OPENAI_API_KEY"
		}
		key := strings.TrimSpace(os.Getenv(envName))
		if key == "" {
			return nil, fmt.Errorf("openai embedder: %s is not set", envName)
		}
		model := chromem.EmbeddingModelOpenAI3Small
		if cfg.EmbeddingModel != "" {
			model = chromem.EmbeddingModelOpenAI(cfg.EmbeddingModel)
		}
		base = EmbedderFunc(chromem.NewEmbeddingFuncOpenAI(key, model))
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
	return NewCachedEmbedder(base, cfg.CacheSize)
}

// CachedEmbedder memoizes embeddings by exact text.
type CachedEmbedder struct {
	base  Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps base with an LRU of size entries.
func NewCachedEmbedder(base Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{base: base, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return v, nil
	}
	v, err := c.base.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}

// HashEmbedder is an offline bag-of-words embedder using feature hashing.
type HashEmbedder struct{}

func (HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%hashDimensions] += sign
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}
