package retriever

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"conductor/internal/domain/ports"
	"conductor/internal/shared/logging"
	tokenutil "conductor/internal/shared/token"
)

const (
	defaultCollection = "artifacts"
	defaultTopK       = 3
)

// VectorRetriever stores accepted artifacts in a chromem collection and
// returns the most similar ones as references.
type VectorRetriever struct {
	db            *chromem.DB
	collection    *chromem.Collection
	topK          int
	minSimilarity float32
	maxTokens     int
	logger        logging.Logger
}

// NewVectorRetriever opens (or creates) the collection. An empty PersistPath
// keeps the store in memory.
func NewVectorRetriever(cfg Config, embedder Embedder, logger logging.Logger) (*VectorRetriever, error) {
	if embedder == nil {
		embedder = HashEmbedder{}
	}
	name := cfg.Collection
	if name == "" {
		name = defaultCollection
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(filepath.Clean(cfg.PersistPath), false)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	collection, err := db.GetOrCreateCollection(name, nil, chromem.EmbeddingFunc(embedder.Embed))
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &VectorRetriever{
		db:            db,
		collection:    collection,
		topK:          topK,
		minSimilarity: cfg.MinSimilarity,
		maxTokens:     cfg.MaxContextTokens,
		logger:        logging.OrNop(logger),
	}, nil
}

// Index stores an accepted artifact.
func (v *VectorRetriever) Index(ctx context.Context, artifact ports.Artifact) error {
	if strings.TrimSpace(artifact.Text) == "" {
		return nil
	}
	err := v.collection.AddDocument(ctx, chromem.Document{
		ID:      artifact.ID,
		Content: artifact.Text,
		Metadata: map[string]string{
			"taskId":      artifact.TaskID,
			"role":        artifact.Role,
			"runId":       artifact.RunID,
			"directiveId": artifact.DirectiveID,
			"createdAt":   artifact.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("index artifact %s: %w", artifact.ID, err)
	}
	return nil
}

// Retrieve returns up to topK similar artifacts, trimmed to the token budget.
func (v *VectorRetriever) Retrieve(ctx context.Context, query ports.RetrievalQuery) ([]ports.Reference, error) {
	text := strings.TrimSpace(strings.Join([]string{query.Task.Title, query.Payload}, "\n"))
	count := v.collection.Count()
	if text == "" || count == 0 {
		return nil, nil
	}
	n := v.topK
	if n > count {
		n = count
	}
	results, err := v.collection.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}

	refs := make([]ports.Reference, 0, len(results))
	for _, r := range results {
		if r.Similarity < v.minSimilarity {
			continue
		}
		if r.Metadata["taskId"] == query.Task.ID && r.Metadata["directiveId"] == query.DirectiveID {
			continue
		}
		refs = append(refs, ports.Reference{
			ID:         r.ID,
			Source:     "artifact:" + r.Metadata["taskId"],
			Content:    r.Content,
			Similarity: r.Similarity,
		})
	}
	return trimToBudget(refs, v.maxTokens), nil
}

// Count returns the number of indexed artifacts.
func (v *VectorRetriever) Count() int {
	return v.collection.Count()
}

// trimToBudget splits maxTokens evenly across references.
func trimToBudget(refs []ports.Reference, maxTokens int) []ports.Reference {
	if maxTokens <= 0 || len(refs) == 0 {
		return refs
	}
	per := maxTokens / len(refs)
	if per < 1 {
		per = 1
	}
	for i := range refs {
		refs[i].Content = tokenutil.TruncateToTokens(refs[i].Content, per)
	}
	return refs
}
