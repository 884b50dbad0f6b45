// Package ports declares the capability interfaces the engine consumes. Each
// has a production and a test implementation chosen at construction time.
package ports

import (
	"context"
	"errors"
	"time"

	"conductor/internal/domain/directive"
	"conductor/internal/domain/task"
)

// ErrTemplateNotFound is returned by a PromptRenderer that has no template for an id.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Artifact is an accepted task output.
type Artifact struct {
	ID          string    `json:"id"`
	RunID       string    `json:"runId"`
	DirectiveID string    `json:"directiveId"`
	TaskID      string    `json:"taskId"`
	Role        string    `json:"role"`
	ArmID       string    `json:"armId"`
	Backend     string    `json:"backend"`
	Model       string    `json:"model"`
	Text        string    `json:"text"`
	Reward      float64   `json:"reward"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Reference is supporting material returned by a Retriever.
type Reference struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity,omitempty"`
}

// RetrievalQuery describes what a task needs context for.
type RetrievalQuery struct {
	DirectiveID string
	Task        task.Task
	Payload     string
}

// Retriever fetches references for a task and indexes accepted artifacts.
type Retriever interface {
	Retrieve(ctx context.Context, query RetrievalQuery) ([]Reference, error)
	Index(ctx context.Context, artifact Artifact) error
}

// Evaluator scores an output against a task's acceptance criteria, in [0,1].
type Evaluator interface {
	Evaluate(ctx context.Context, t task.Task, output string) (float64, error)
}

// PromptContext is the bundle a template renders from.
type PromptContext struct {
	Directive  directive.Metadata `json:"directive"`
	Task       task.Task          `json:"task"`
	Variant    string             `json:"variant,omitempty"`
	Payload    string             `json:"payload,omitempty"`
	References []Reference        `json:"references,omitempty"`
	Attempt    int                `json:"attempt"`
}

// PromptRenderer renders a template id against a context bundle.
type PromptRenderer interface {
	Render(templateID string, pc PromptContext) (string, error)
}
