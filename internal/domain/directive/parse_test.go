package directive

import (
	"errors"
	"testing"

	"conductor/internal/domain/task"
)

const yamlDirective = `
metadata:
  id: launch
  title: Launch checklist
tasks:
  - id: draft
    title: Draft announcement
    role: worker
    promptTemplateId: draft
    acceptanceCriteria:
      mustContain: [launch]
  - id: review
policies:
  approvalThreshold: 0.5
  maxRetries: 1
  leadRole: editor
`

func TestParseYAML(t *testing.T) {
	d, err := Parse(yamlDirective)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Metadata.ID != "launch" || len(d.Tasks) != 2 {
		t.Fatalf("unexpected directive: %+v", d)
	}
	if d.Policies.ApprovalThreshold != 0.5 || d.Policies.MaxRetries != 1 || d.Policies.LeadRole != "editor" {
		t.Fatalf("unexpected policies: %+v", d.Policies)
	}
	review := d.Tasks[1]
	if review.Role != DefaultRole || review.Title != "review" || review.Origin != task.OriginDirective {
		t.Fatalf("defaults not applied: %+v", review)
	}
	criteria, ok := d.Tasks[0].AcceptanceCriteria.(map[string]any)
	if !ok || criteria["mustContain"] == nil {
		t.Fatalf("criteria not preserved: %#v", d.Tasks[0].AcceptanceCriteria)
	}
	if got := d.Roles(); len(got) != 2 || got[0] != "worker" || got[1] != "editor" {
		t.Fatalf("unexpected roles %v", got)
	}
}

func TestParseJSONAndDefaults(t *testing.T) {
	d, err := Parse([]byte(`{"metadata":{"id":"j"},"tasks":[{"id":"a","role":"worker"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Policies.ApprovalThreshold != DefaultApprovalThreshold || d.Policies.MaxRetries != DefaultMaxRetries || d.Policies.LeadRole != DefaultLeadRole {
		t.Fatalf("defaults not applied: %+v", d.Policies)
	}
}

func TestParseExplicitZeroRetries(t *testing.T) {
	d, err := Parse(`{"metadata":{"id":"j"},"tasks":[{"id":"a"}],"policies":{"maxRetries":0,"approvalThreshold":0}}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Policies.MaxRetries != 0 || d.Policies.ApprovalThreshold != 0 {
		t.Fatalf("explicit zeros must be kept: %+v", d.Policies)
	}
}

func TestParseRepairsSloppyJSON(t *testing.T) {
	d, err := Parse(`{"metadata":{"id":"j",},"tasks":[{"id":"a","role":"worker",}],}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Tasks[0].ID != "a" {
		t.Fatalf("unexpected tasks %+v", d.Tasks)
	}
}

func TestParseNativeObject(t *testing.T) {
	native := map[string]any{
		"metadata": map[string]any{"id": "n"},
		"tasks":    []any{map[string]any{"id": "a", "role": "worker"}},
		"policies": map[string]any{"leadRole": "boss"},
	}
	d, err := Parse(native)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Policies.LeadRole != "boss" {
		t.Fatalf("unexpected lead role %q", d.Policies.LeadRole)
	}

	typed, err := Parse(Directive{Metadata: Metadata{ID: "t"}, Tasks: []task.Task{{ID: "a"}}, Policies: Policies{ApprovalThreshold: 0.5}})
	if err != nil {
		t.Fatalf("parse typed: %v", err)
	}
	if typed.Policies.LeadRole != DefaultLeadRole || typed.Tasks[0].Role != DefaultRole {
		t.Fatalf("typed directive not normalized: %+v", typed)
	}
}

func TestParseFailures(t *testing.T) {
	cases := map[string]any{
		"empty":        "   ",
		"nil":          nil,
		"garbage":      "::: not: [valid",
		"no id":        `{"tasks":[{"id":"a"}]}`,
		"no tasks":     `metadata: {id: x}`,
		"dup ids":      `{"metadata":{"id":"x"},"tasks":[{"id":"a"},{"id":"a"}]}`,
		"missing task": `{"metadata":{"id":"x"},"tasks":[{"title":"t"}]}`,
		"threshold":    `{"metadata":{"id":"x"},"tasks":[{"id":"a"}],"policies":{"approvalThreshold":2}}`,
		"retries":      `{"metadata":{"id":"x"},"tasks":[{"id":"a"}],"policies":{"maxRetries":-1}}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(input)
			var parseErr *SpecParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected SpecParseError, got %v", err)
			}
		})
	}
}
