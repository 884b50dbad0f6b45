// Package directive parses and validates declarative task batches.
package directive

import (
	"fmt"

	"conductor/internal/domain/task"
)

const (
	DefaultApprovalThreshold = 0.7
	DefaultMaxRetries        = 2
	DefaultLeadRole          = "department-lead"
	DefaultRole              = "worker"
)

// Metadata identifies a directive.
type Metadata struct {
	ID          string            `json:"id" yaml:"id"`
	Title       string            `json:"title,omitempty" yaml:"title,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Policies control acceptance, retry and escalation.
type Policies struct {
	ApprovalThreshold float64 `json:"approvalThreshold" yaml:"approvalThreshold"`
	MaxRetries        int     `json:"maxRetries" yaml:"maxRetries"`
	LeadRole          string  `json:"leadRole" yaml:"leadRole"`
}

// Directive is an immutable batch of tasks plus policy parameters.
type Directive struct {
	Metadata Metadata    `json:"metadata" yaml:"metadata"`
	Tasks    []task.Task `json:"tasks" yaml:"tasks"`
	Policies Policies    `json:"policies" yaml:"policies"`
}

// Roles returns every role referenced by the directive, including the lead role,
// in first-seen order.
func (d Directive) Roles() []string {
	seen := map[string]bool{}
	var roles []string
	add := func(role string) {
		if role == "" || seen[role] {
			return
		}
		seen[role] = true
		roles = append(roles, role)
	}
	for _, t := range d.Tasks {
		add(t.Role)
	}
	add(d.Policies.LeadRole)
	return roles
}

// SpecParseError reports a directive that could not be parsed or validated.
type SpecParseError struct {
	Reason string
	Err    error
}

func (e *SpecParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("directive parse error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("directive parse error: %s", e.Reason)
}

func (e *SpecParseError) Unwrap() error { return e.Err }
