// Package trace records every engine decision as an append-only event stream
// and fans events out to live observers.
package trace

import "time"

const (
	EventDirectiveStarted   = "directive.started"
	EventDirectiveCompleted = "directive.completed"
	EventDirectiveCancelled = "directive.cancelled"
	EventTaskEnqueued       = "task.enqueued"
	EventTaskRunning        = "task.running"
	EventArmSelected        = "arm.selected"
	EventBackendResolved    = "backend.resolved"
	EventContextRetrieved   = "context.retrieved"
	EventPromptRendered     = "prompt.rendered"
	EventBackendInvoked     = "backend.invoked"
	EventBackendFailed      = "backend.failed"
	EventBackendDisabled    = "backend.disabled"
	EventUsageRecorded      = "usage.recorded"
	EventTaskEvaluated      = "task.evaluated"
	EventSelectorUpdated    = "selector.updated"
	EventArtifactIndexed    = "artifact.indexed"
	EventTaskAccepted       = "task.accepted"
	EventTaskFollowUp       = "task.followup"
	EventTaskRequeued       = "task.requeued"
	EventTaskEscalated      = "task.escalated"
)

// Event is one immutable trace record.
type Event struct {
	Seq         uint64         `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	EventName   string         `json:"eventName"`
	RunID       string         `json:"runId,omitempty"`
	DirectiveID string         `json:"directiveId,omitempty"`
	TaskID      string         `json:"taskId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Recorder is the port the engine emits through. Record must not block on
// observers and must not panic.
type Recorder interface {
	Record(event Event)
}

// Nop discards all events.
type Nop struct{}

func (Nop) Record(Event) {}
