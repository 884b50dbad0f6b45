package engine

import (
	"context"

	"conductor/internal/domain/ports"
)

type noopRetriever struct{}

func (noopRetriever) Retrieve(context.Context, ports.RetrievalQuery) ([]ports.Reference, error) {
	return nil, nil
}

func (noopRetriever) Index(context.Context, ports.Artifact) error { return nil }

// jsonRenderer has no templates, so every prompt is the serialized context.
type jsonRenderer struct{}

func (jsonRenderer) Render(string, ports.PromptContext) (string, error) {
	return "", ports.ErrTemplateNotFound
}
