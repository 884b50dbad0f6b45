package directive

import (
	"bytes"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"

	"conductor/internal/domain/task"
	jsonx "conductor/internal/shared/json"
)

type rawPolicies struct {
	ApprovalThreshold *float64 `json:"approvalThreshold" yaml:"approvalThreshold"`
	MaxRetries        *int     `json:"maxRetries" yaml:"maxRetries"`
	LeadRole          string   `json:"leadRole" yaml:"leadRole"`
}

type rawDirective struct {
	Metadata Metadata    `json:"metadata" yaml:"metadata"`
	Tasks    []task.Task `json:"tasks" yaml:"tasks"`
	Policies rawPolicies `json:"policies" yaml:"policies"`
}

// Parse accepts a Directive, *Directive, native map, string or []byte.
// Text input is decoded as JSON first, then repaired JSON, then YAML.
func Parse(input any) (Directive, error) {
	switch v := input.(type) {
	case nil:
		return Directive{}, &SpecParseError{Reason: "empty directive"}
	case Directive:
		return normalize(v)
	case *Directive:
		if v == nil {
			return Directive{}, &SpecParseError{Reason: "empty directive"}
		}
		return normalize(*v)
	case string:
		return ParseBytes([]byte(v))
	case []byte:
		return ParseBytes(v)
	default:
		data, err := jsonx.Marshal(v)
		if err != nil {
			return Directive{}, &SpecParseError{Reason: "unsupported directive value", Err: err}
		}
		return ParseBytes(data)
	}
}

// ParseBytes decodes a textual directive.
func ParseBytes(data []byte) (Directive, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Directive{}, &SpecParseError{Reason: "empty directive"}
	}

	var raw rawDirective
	if data[0] == '{' {
		jsonErr := jsonx.Unmarshal(data, &raw)
		if jsonErr == nil {
			return fromRaw(raw)
		}
		if repaired, err := jsonrepair.JSONRepair(string(data)); err == nil {
			raw = rawDirective{}
			if err := jsonx.Unmarshal([]byte(repaired), &raw); err == nil {
				return fromRaw(raw)
			}
		}
		raw = rawDirective{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Directive{}, &SpecParseError{Reason: "invalid JSON", Err: jsonErr}
		}
		return fromRaw(raw)
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Directive{}, &SpecParseError{Reason: "invalid YAML", Err: err}
	}
	return fromRaw(raw)
}

func fromRaw(raw rawDirective) (Directive, error) {
	d := Directive{
		Metadata: raw.Metadata,
		Tasks:    raw.Tasks,
		Policies: Policies{
			ApprovalThreshold: DefaultApprovalThreshold,
			MaxRetries:        DefaultMaxRetries,
			LeadRole:          raw.Policies.LeadRole,
		},
	}
	if raw.Policies.ApprovalThreshold != nil {
		d.Policies.ApprovalThreshold = *raw.Policies.ApprovalThreshold
	}
	if raw.Policies.MaxRetries != nil {
		d.Policies.MaxRetries = *raw.Policies.MaxRetries
	}
	return normalize(d)
}

// normalize applies defaults and validates. Directives built in code get the
// lead role default but keep their explicit threshold and retry values.
func normalize(d Directive) (Directive, error) {
	if d.Metadata.ID == "" {
		return Directive{}, &SpecParseError{Reason: "metadata.id is required"}
	}
	if len(d.Tasks) == 0 {
		return Directive{}, &SpecParseError{Reason: "directive has no tasks"}
	}
	if d.Policies.LeadRole == "" {
		d.Policies.LeadRole = DefaultLeadRole
	}
	if d.Policies.ApprovalThreshold < 0 || d.Policies.ApprovalThreshold > 1 {
		return Directive{}, &SpecParseError{Reason: fmt.Sprintf("approvalThreshold %v outside [0,1]", d.Policies.ApprovalThreshold)}
	}
	if d.Policies.MaxRetries < 0 {
		return Directive{}, &SpecParseError{Reason: "maxRetries must be >= 0"}
	}

	tasks := make([]task.Task, len(d.Tasks))
	seen := make(map[string]bool, len(d.Tasks))
	for i, t := range d.Tasks {
		if t.ID == "" {
			return Directive{}, &SpecParseError{Reason: fmt.Sprintf("tasks[%d]: id is required", i)}
		}
		if seen[t.ID] {
			return Directive{}, &SpecParseError{Reason: fmt.Sprintf("tasks[%d]: duplicate id %q", i, t.ID)}
		}
		seen[t.ID] = true
		if t.Role == "" {
			t.Role = DefaultRole
		}
		if t.Title == "" {
			t.Title = t.ID
		}
		t.Retries = 0
		if t.Origin == "" {
			t.Origin = task.OriginDirective
		}
		tasks[i] = t
	}
	d.Tasks = tasks
	return d, nil
}
