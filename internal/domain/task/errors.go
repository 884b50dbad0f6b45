package task

import "fmt"

// DuplicateTaskError is returned when enqueueing an id that is already live.
type DuplicateTaskError struct {
	ID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already enqueued", e.ID)
}

// InvalidTransitionError is returned for a lifecycle move the state machine forbids.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("task %q: invalid transition to %s (unknown task)", e.ID, e.To)
	}
	return fmt.Sprintf("task %q: invalid transition %s -> %s", e.ID, e.From, e.To)
}
