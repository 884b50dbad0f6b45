// Package task defines the directive task model and the per-run queue that owns
// task lifecycle.
package task

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusAccepted  Status = "accepted"
	StatusEscalated Status = "escalated"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusEscalated:
		return true
	default:
		return false
	}
}

// Origin records how a task entered the queue.
type Origin string

const (
	OriginDirective  Origin = "directive"
	OriginFollowUp   Origin = "followup"
	OriginEscalation Origin = "escalation"
)

// Task is one unit of work within a directive, assigned to a role.
type Task struct {
	ID                 string `json:"id" yaml:"id"`
	Title              string `json:"title" yaml:"title"`
	Role               string `json:"role" yaml:"role"`
	PayloadRef         string `json:"payloadRef,omitempty" yaml:"payloadRef,omitempty"`
	PromptTemplateID   string `json:"promptTemplateId,omitempty" yaml:"promptTemplateId,omitempty"`
	AcceptanceCriteria any    `json:"acceptanceCriteria,omitempty" yaml:"acceptanceCriteria,omitempty"`
	Retries            int    `json:"retries" yaml:"retries"`
	ParentID           string `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	Origin             Origin `json:"origin,omitempty" yaml:"origin,omitempty"`
}
