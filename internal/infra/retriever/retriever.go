// Package retriever supplies reference material for tasks and indexes accepted
// artifacts for later retrieval.
package retriever

import (
	"context"
	"fmt"
	"strings"

	"conductor/internal/domain/ports"
	"conductor/internal/shared/logging"
)

const (
	KindNoop    = "noop"
	KindChromem = "chromem"
	KindWeb     = "web"

	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
)

// Config selects and parameterizes a retriever.
type Config struct {
	Kind             string
	PersistPath      string
	Collection       string
	TopK             int
	MinSimilarity    float32
	Embedder         string
	EmbeddingModel   string
	APIKeyEnv        string
	CacheSize        int
	MaxContextTokens int
	FetchURLs        bool
}

// New builds the retriever named by cfg.Kind, wrapped with URL fetching when
// cfg.FetchURLs is set.
func New(cfg Config, logger logging.Logger) (ports.Retriever, error) {
	var inner ports.Retriever
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindNoop:
		inner = Noop{}
	case KindWeb:
		inner = Noop{}
		cfg.FetchURLs = true
	case KindChromem:
		embedder, err := NewEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		store, err := NewVectorRetriever(cfg, embedder, logger)
		if err != nil {
			return nil, err
		}
		inner = store
	default:
		return nil, fmt.Errorf("unknown retriever kind %q", cfg.Kind)
	}
	if cfg.FetchURLs {
		return NewWebRetriever(inner, cfg.MaxContextTokens, nil, logger), nil
	}
	return inner, nil
}

// Noop returns no references and indexes nothing.
type Noop struct{}

func (Noop) Retrieve(context.Context, ports.RetrievalQuery) ([]ports.Reference, error) {
	return nil, nil
}

func (Noop) Index(context.Context, ports.Artifact) error { return nil }
