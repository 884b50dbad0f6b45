package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain/directive"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/task"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".tmpl"), []byte(body), 0o644))
}

func TestRenderPrefersVariant(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "draft", "plain {{ .Task.Title }}")
	writeTemplate(t, dir, "draft.terse", "terse {{ .Task.Title }}")

	r, err := NewRenderer(dir, 4)
	require.NoError(t, err)

	pc := ports.PromptContext{Task: task.Task{Title: "Write intro"}}
	out, err := r.Render("draft", pc)
	require.NoError(t, err)
	assert.Equal(t, "plain Write intro", out)

	pc.Variant = "terse"
	out, err = r.Render("draft", pc)
	require.NoError(t, err)
	assert.Equal(t, "terse Write intro", out)

	pc.Variant = "missing"
	out, err = r.Render("draft", pc)
	require.NoError(t, err)
	assert.Equal(t, "plain Write intro", out)
}

func TestRenderNotFound(t *testing.T) {
	r, err := NewRenderer(t.TempDir(), 0)
	require.NoError(t, err)
	_, err = r.Render("nope", ports.PromptContext{})
	assert.True(t, errors.Is(err, ports.ErrTemplateNotFound))

	_, err = r.Render("../etc/passwd", ports.PromptContext{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrTemplateNotFound))
}

func TestBuiltinEscalationTemplate(t *testing.T) {
	r, err := NewRenderer("", 0)
	require.NoError(t, err)
	out, err := r.Render(EscalationTemplate, ports.PromptContext{
		Directive: directive.Metadata{ID: "d1", Title: "Launch"},
		Task: task.Task{
			ID: "esc:t1", Title: "Draft copy", Role: "department-lead", ParentID: "t1",
			AcceptanceCriteria: map[string]any{"mustContain": []string{"launch"}},
		},
		Payload: "weak draft",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "department-lead")
	assert.Contains(t, out, "Escalated from: t1")
	assert.Contains(t, out, `"mustContain"`)
	assert.Contains(t, out, "weak draft")
}

func TestCachePurgeReloads(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "x", "v1")
	r, err := NewRenderer(dir, 2)
	require.NoError(t, err)

	out, _ := r.Render("x", ports.PromptContext{})
	assert.Equal(t, "v1", out)

	writeTemplate(t, dir, "x", "v2")
	out, _ = r.Render("x", ports.PromptContext{})
	assert.Equal(t, "v1", out, "cached until purge")

	r.Purge()
	out, _ = r.Render("x", ports.PromptContext{})
	assert.Equal(t, "v2", out)
}

func TestDefaultTemplateMentionsAttempt(t *testing.T) {
	r, err := NewRenderer("", 0)
	require.NoError(t, err)
	out, err := r.Render("", ports.PromptContext{Task: task.Task{ID: "t", Title: "Do", Role: "worker"}, Attempt: 2})
	require.NoError(t, err)
	assert.Contains(t, out, "attempt 3")
}
