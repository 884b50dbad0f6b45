package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4, cfg.Engine.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Engine.InvokeTimeout)
	assert.Equal(t, 0.2, cfg.Selector.Epsilon)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, DefaultBackend, cfg.Backends[0].Name)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  concurrency: 8
  retry_backoff: 500ms
selector:
  epsilon: 0
backends:
  - name: fast
    provider: OpenAI
    model: gpt-4o-mini
    roles: [worker]
    requests_per_second: 2
  - name: lead
    provider: anthropic
    roles: [department-lead]
arms:
  - id: worker:fast:terse
    role: worker
    backend: fast
    prompt_variant: terse
evaluator:
  kind: judge
  judge_backend: lead
schedules:
  - name: nightly
    schedule: "0 2 * * *"
    directive: ./directives/nightly.yaml
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Engine.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.RetryBackoff)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.IdlePoll)
	assert.Equal(t, 0.0, cfg.Selector.Epsilon)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "openai", cfg.Backends[0].Provider)
	assert.Equal(t, []string{"worker"}, cfg.Backends[0].Roles)
	assert.Equal(t, "terse", cfg.Arms[0].PromptVariant)
	assert.Equal(t, "judge", cfg.Evaluator.Kind)
	assert.Equal(t, "nightly", cfg.Schedules[0].Name)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CONDUCTOR_ENGINE_CONCURRENCY", "2")
	t.Setenv("CONDUCTOR_SERVER_ADDR", ":9999")
	cfg, err := Load(writeConfig(t, "engine:\n  concurrency: 6\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.Concurrency)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Engine.Concurrency = 0
	cfg.Selector.Epsilon = 1.5
	cfg.Backends = append(cfg.Backends, BackendConfig{Name: DefaultBackend, Provider: "carrier"})
	cfg.Arms = []ArmConfig{{ID: "a", Role: "worker", Backend: "ghost"}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"concurrency", "epsilon", "duplicate name", "unknown provider", "unknown backend"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "conductor.yaml")
	cfg := Default()
	cfg.Engine.Concurrency = 3
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Engine.Concurrency)
	assert.Equal(t, cfg.Engine.RetryBackoff, loaded.Engine.RetryBackoff)
}
