package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "conductor/internal/domain/backend"
	"conductor/internal/domain/task"
	"conductor/internal/domain/usage"
	"conductor/internal/infra/backend"
)

func TestCriteriaScoring(t *testing.T) {
	c := NewCriteria()
	ctx := context.Background()

	cases := []struct {
		name     string
		criteria any
		output   string
		want     float64
	}{
		{name: "no criteria", criteria: nil, output: "anything", want: 1},
		{name: "empty output", criteria: nil, output: "   ", want: 0},
		{name: "string criterion", criteria: "Launch", output: "the launch is ready", want: 1},
		{name: "list criterion", criteria: []any{"alpha", "beta"}, output: "alpha only", want: 0.5},
		{name: "mixed map", criteria: map[string]any{
			"mustContain":    []any{"summary"},
			"mustNotContain": "TODO",
			"minLength":      10,
			"maxLength":      float64(5),
		}, output: "summary of the work", want: 0.75},
		{name: "json", criteria: map[string]any{"json": true}, output: "```json\n{\"a\":1}\n```", want: 1},
		{name: "bad json", criteria: map[string]any{"json": true}, output: "{nope", want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Evaluate(ctx, task.Task{AcceptanceCriteria: tc.criteria}, tc.output)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}

	_, err := c.Evaluate(ctx, task.Task{AcceptanceCriteria: 42}, "x")
	assert.Error(t, err)
}

func TestStaticClamps(t *testing.T) {
	got, _ := Static(3).Evaluate(context.Background(), task.Task{}, "")
	assert.Equal(t, 1.0, got)
	got, _ = Static(-1).Evaluate(context.Background(), task.Task{}, "")
	assert.Equal(t, 0.0, got)
}

func TestParseScore(t *testing.T) {
	cases := map[string]float64{
		`{"score": 0.8, "reason": "good"}`:       0.8,
		"```json\n{\"score\": 1, \"reason\": \"x\"}\n```": 1,
		`{"score": 0.4, "reason": "trailing",}`:  0.4,
		"Score: 0.25 because it is thin":         0.25,
		"I would say 1":                          1,
	}
	for reply, want := range cases {
		got, ok := ParseScore(reply)
		require.True(t, ok, reply)
		assert.InDelta(t, want, got, 1e-9, reply)
	}
	_, ok := ParseScore("no idea")
	assert.False(t, ok)
}

func newJudgeRegistry(t *testing.T, ledger *usage.Ledger, steps ...backend.Step) *backend.Registry {
	t.Helper()
	r := backend.NewRegistry(ledger, nil)
	require.NoError(t, r.Register(backend.Config{Name: "judge", Roles: []string{"judge"}}, backend.NewScriptedClient(steps...)))
	return r
}

func TestJudgeUsesBackendScore(t *testing.T) {
	j := NewJudge(newJudgeRegistry(t, usage.NewLedger(), backend.Step{Text: `{"score":0.9}`}), nil, "", "", NewCriteria(), nil)
	got, err := j.Evaluate(context.Background(), task.Task{ID: "a", Title: "t"}, "output")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got, 1e-9)
}

func TestJudgeFallsBackOnFailure(t *testing.T) {
	j := NewJudge(newJudgeRegistry(t, usage.NewLedger(), backend.Step{Err: errors.New("down")}), nil, "", "", Static(0.3), nil)
	got, err := j.Evaluate(context.Background(), task.Task{ID: "a"}, "output")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got, 1e-9)

	j = NewJudge(newJudgeRegistry(t, usage.NewLedger(), backend.Step{Text: "cannot grade"}), nil, "", "", Static(0.6), nil)
	got, _ = j.Evaluate(context.Background(), task.Task{ID: "a"}, "output")
	assert.InDelta(t, 0.6, got, 1e-9)
}

func TestJudgeRecordsRateLimitInLedger(t *testing.T) {
	ledger := usage.NewLedger()
	retry := 30
	registry := newJudgeRegistry(t, ledger, backend.Step{Err: &domain.RateLimitError{
		Backend: "judge", StatusCode: 429, Signal: usage.Signal{RetryAfterSeconds: &retry},
	}})
	j := NewJudge(registry, ledger, "", "", Static(1), nil)

	got, err := j.Evaluate(context.Background(), task.Task{ID: "a"}, "output")
	require.NoError(t, err)
	assert.InDelta(t, 1, got, 1e-9)

	rec, ok := ledger.Lookup("judge", "mock")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalCalls)
	assert.True(t, rec.Throttled)
	assert.Less(t, ledger.Score("judge", "mock"), 100)
}

func TestJudgeRecordsSuccessfulCall(t *testing.T) {
	ledger := usage.NewLedger()
	j := NewJudge(newJudgeRegistry(t, ledger, backend.Step{
		Text:   `{"score":0.7}`,
		Signal: usage.Signal{Remaining: usage.Int(40), Limit: usage.Int(50)},
	}), ledger, "", "", NewCriteria(), nil)

	got, err := j.Evaluate(context.Background(), task.Task{ID: "a"}, "output")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got, 1e-9)

	rec, ok := ledger.Lookup("judge", "mock")
	require.True(t, ok)
	assert.Equal(t, 1, rec.TotalCalls)
	assert.Equal(t, 40, rec.Remaining)
}

func TestJudgeSkipsBackendsDisabledForRun(t *testing.T) {
	ledger := usage.NewLedger()
	client := backend.NewScriptedClient(backend.Step{Text: `{"score":0.9}`})
	registry := backend.NewRegistry(ledger, nil)
	require.NoError(t, registry.Register(backend.Config{Name: "judge", Roles: []string{"judge"}}, client))
	j := NewJudge(registry, ledger, "", "", Static(0.2), nil)

	ctx := domain.WithSkip(context.Background(), "judge")
	got, err := j.Evaluate(ctx, task.Task{ID: "a"}, "output")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got, 1e-9)
	assert.Equal(t, 0, client.Calls())
	_, ok := ledger.Lookup("judge", "mock")
	assert.False(t, ok)
}

func TestNewSelectsKind(t *testing.T) {
	for _, kind := range []string{"", KindCriteria, KindStatic} {
		_, err := New(Config{Kind: kind}, nil, nil, nil)
		require.NoError(t, err, kind)
	}
	_, err := New(Config{Kind: KindJudge}, nil, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Kind: "vibes"}, nil, nil, nil)
	assert.Error(t, err)
}
