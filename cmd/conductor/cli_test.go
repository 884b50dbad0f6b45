package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain/selector"
	"conductor/internal/domain/trace"
	"conductor/internal/shared/config"
)

func init() {
	color.NoColor = true
}

func writeTestConfig(t *testing.T) (string, config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Selector.StatePath = filepath.Join(dir, "arms.json")
	cfg.Selector.Epsilon = 0
	cfg.Trace.Path = filepath.Join(dir, "trace.jsonl")
	cfg.Engine.RetryBackoff = time.Millisecond
	cfg.Engine.IdlePoll = 5 * time.Millisecond
	cfg.Evaluator.Kind = "static"
	cfg.Evaluator.StaticReward = 1
	cfg.Observability.Metrics.Enabled = false
	path := filepath.Join(dir, "conductor.yaml")
	require.NoError(t, config.Save(cfg, path))
	return path, cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunReplayAndArms(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	directivePath := filepath.Join(t.TempDir(), "d.yaml")
	require.NoError(t, os.WriteFile(directivePath, []byte("metadata: {id: cli}\ntasks:\n  - id: t1\n    title: hello\n"), 0o644))

	out, err := execute(t, "--config", cfgPath, "run", directivePath)
	require.NoError(t, err)
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "accepted=1")

	out, err = execute(t, "--config", cfgPath, "replay")
	require.NoError(t, err)
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "accepted")

	out, err = execute(t, "--config", cfgPath, "replay", "--events")
	require.NoError(t, err)
	assert.Contains(t, out, trace.EventDirectiveCompleted)

	out, err = execute(t, "--config", cfgPath, "arms", "--role", "worker")
	require.NoError(t, err)
	assert.Contains(t, out, "worker:auto")
}

func TestRunRejectsInvalidDirective(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	directivePath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(directivePath, []byte("tasks: []\n"), 0o644))
	_, err := execute(t, "--config", cfgPath, "run", directivePath)
	require.Error(t, err)
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	out, err := execute(t, "init", "--yes", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Backends)

	_, err = execute(t, "init", "--yes", "--output", path)
	assert.Error(t, err)
}

func TestPrintArms(t *testing.T) {
	var buf bytes.Buffer
	printArms(&buf, nil)
	assert.Contains(t, buf.String(), "no arms recorded")

	buf.Reset()
	printArms(&buf, []selector.Arm{{ID: "writer:openai", Role: "writer", BackendName: "openai", Wins: 3, Plays: 4}})
	assert.Contains(t, buf.String(), "writer:openai")
	assert.Contains(t, buf.String(), "0.75")
}

func TestValidateUnit(t *testing.T) {
	assert.NoError(t, validateUnit("0.3"))
	assert.Error(t, validateUnit("1.5"))
	assert.Error(t, validateUnit("abc"))
	assert.Error(t, notBlank("  "))
}
