// Package selector chooses which arm (backend plus prompt variant) to try for a
// role, learning from evaluator rewards with an epsilon-greedy policy.
package selector

import (
	"errors"
	"fmt"
)

// WinThreshold is the reward at or above which a play counts as a win.
const WinThreshold = 0.5

// DefaultEpsilon is the exploration probability used when none is configured.
const DefaultEpsilon = 0.2

// ErrUnknownArm is returned when updating an arm id that was never seeded.
var ErrUnknownArm = errors.New("unknown arm")

// Arm is one backend/prompt-variant pairing the bandit can choose.
type Arm struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	BackendName   string `json:"backendName,omitempty"`
	PromptVariant string `json:"promptVariant,omitempty"`
	Wins          int    `json:"wins"`
	Plays         int    `json:"plays"`
	// Order is the arm's first-seen position within its role.
	Order int `json:"order"`
}

// Ratio returns wins/plays, treating an unplayed arm as 0.
func (a Arm) Ratio() float64 {
	if a.Plays == 0 {
		return 0
	}
	return float64(a.Wins) / float64(a.Plays)
}

// NoArmsAvailableError is returned when a role has no seeded arms.
type NoArmsAvailableError struct {
	Role string
}

func (e *NoArmsAvailableError) Error() string {
	return fmt.Sprintf("no arms available for role %q", e.Role)
}

// Store persists arm state keyed by arm id.
type Store interface {
	Load() (map[string]Arm, error)
	Save(arms map[string]Arm) error
}
