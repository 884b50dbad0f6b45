package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"conductor/internal/domain/task"
	jsonx "conductor/internal/shared/json"
)

// FollowUp is additional work declared in a backend's output.
type FollowUp struct {
	ID                 string `json:"id,omitempty"`
	Title              string `json:"title"`
	Role               string `json:"role,omitempty"`
	PayloadRef         string `json:"payloadRef,omitempty"`
	PromptTemplateID   string `json:"promptTemplateId,omitempty"`
	AcceptanceCriteria any    `json:"acceptanceCriteria,omitempty"`
}

type followUpBlock struct {
	FollowUps []FollowUp `json:"followUps"`
}

var (
	fencedBlock   = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)```")
	followUpStart = regexp.MustCompile(`\{\s*"followUps"\s*:`)
)

// ParseFollowUps extracts follow-up declarations from output. It accepts a
// fenced json block or a bare {"followUps": [...]} object and repairs minor
// JSON damage. Output without a declaration yields nil.
func ParseFollowUps(output string) []FollowUp {
	if !strings.Contains(output, "followUps") {
		return nil
	}
	for _, m := range fencedBlock.FindAllStringSubmatch(output, -1) {
		if fus, ok := decodeFollowUps(m[1]); ok {
			return fus
		}
	}
	if loc := followUpStart.FindStringIndex(output); loc != nil {
		if fus, ok := decodeFollowUps(balancedObject(output[loc[0]:])); ok {
			return fus
		}
	}
	return nil
}

func decodeFollowUps(raw string) ([]FollowUp, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "followUps") {
		return nil, false
	}
	var block followUpBlock
	if err := jsonx.Unmarshal([]byte(raw), &block); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, false
		}
		if err := jsonx.Unmarshal([]byte(repaired), &block); err != nil {
			return nil, false
		}
	}
	out := block.FollowUps[:0]
	for _, f := range block.FollowUps {
		f.Title = strings.TrimSpace(f.Title)
		if f.Title == "" && f.ID == "" {
			continue
		}
		out = append(out, f)
	}
	return out, len(out) > 0
}

// balancedObject returns the prefix of s up to the brace closing its first
// object, or all of s when the object is truncated.
func balancedObject(s string) string {
	depth := 0
	inString, escaped := false, false
	for i, c := range s {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return s
}

// followUpTasks turns declarations into tasks parented on parent.
func followUpTasks(parent task.Task, artifactID string, fus []FollowUp) []task.Task {
	tasks := make([]task.Task, 0, len(fus))
	for i, f := range fus {
		t := task.Task{
			ID:                 strings.TrimSpace(f.ID),
			Title:              f.Title,
			Role:               strings.TrimSpace(f.Role),
			PayloadRef:         strings.TrimSpace(f.PayloadRef),
			PromptTemplateID:   f.PromptTemplateID,
			AcceptanceCriteria: f.AcceptanceCriteria,
			ParentID:           parent.ID,
			Origin:             task.OriginFollowUp,
		}
		if t.ID == "" {
			t.ID = fmt.Sprintf("%s.f%d", parent.ID, i+1)
		}
		if t.Title == "" {
			t.Title = t.ID
		}
		if t.Role == "" {
			t.Role = parent.Role
		}
		if t.PayloadRef == "" {
			t.PayloadRef = artifactID
		}
		tasks = append(tasks, t)
	}
	return tasks
}
