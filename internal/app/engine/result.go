package engine

import (
	"time"

	"conductor/internal/domain/backend"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/task"
)

// RunStatus is the terminal state of a directive run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
)

// TaskResult is the final view of one task in a run.
type TaskResult struct {
	Task       task.Task   `json:"task"`
	Status     task.Status `json:"status"`
	Attempts   int         `json:"attempts"`
	LastReward float64     `json:"lastReward"`
	LastArmID  string      `json:"lastArmId,omitempty"`
	Backend    string      `json:"backend,omitempty"`
	ArtifactID string      `json:"artifactId,omitempty"`
	FollowUps  []string    `json:"followUps,omitempty"`
}

// Escalation records a task handed to the lead role.
type Escalation struct {
	TaskID           string `json:"taskId"`
	EscalationTaskID string `json:"escalationTaskId,omitempty"`
	Role             string `json:"role"`
	Reason           string `json:"reason"`
}

// Result is what a run hands back to its caller alongside the trace.
type Result struct {
	RunID        string               `json:"runId"`
	DirectiveID  string               `json:"directiveId"`
	Status       RunStatus            `json:"status"`
	StartedAt    time.Time            `json:"startedAt"`
	FinishedAt   time.Time            `json:"finishedAt"`
	Tasks        []TaskResult         `json:"tasks"`
	Artifacts    []ports.Artifact     `json:"artifacts,omitempty"`
	Escalations  []Escalation         `json:"escalations,omitempty"`
	AuthFailures []*backend.AuthError `json:"-"`
}

// Task returns the result for id.
func (r Result) Task(id string) (TaskResult, bool) {
	for _, t := range r.Tasks {
		if t.Task.ID == id {
			return t, true
		}
	}
	return TaskResult{}, false
}

// Counts tallies tasks by status.
func (r Result) Counts() map[task.Status]int {
	counts := make(map[task.Status]int)
	for _, t := range r.Tasks {
		counts[t.Status]++
	}
	return counts
}
