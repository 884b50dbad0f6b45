package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	domain "conductor/internal/domain/backend"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/task"
	"conductor/internal/domain/usage"
	jsonx "conductor/internal/shared/json"
	"conductor/internal/shared/logging"
)

const defaultJudgeRole = "judge"

var scorePattern = regexp.MustCompile(`(?i)score["'\s:=]*([01](?:\.\d+)?)`)
var numberPattern = regexp.MustCompile(`\b([01](?:\.\d+)?)\b`)

// Judge asks a backend to grade output, falling back when the judge fails or
// answers without a usable score. Judge calls are recorded in the usage
// ledger like any other invocation.
type Judge struct {
	resolver domain.Resolver
	ledger   *usage.Ledger
	role     string
	backend  string
	fallback ports.Evaluator
	logger   logging.Logger
}

// NewJudge constructs an LLM-as-judge evaluator.
func NewJudge(resolver domain.Resolver, ledger *usage.Ledger, role, backend string, fallback ports.Evaluator, logger logging.Logger) *Judge {
	if role == "" {
		role = defaultJudgeRole
	}
	return &Judge{
		resolver: resolver,
		ledger:   ledger,
		role:     role,
		backend:  backend,
		fallback: fallback,
		logger:   logging.OrNop(logger),
	}
}

func (j *Judge) Evaluate(ctx context.Context, t task.Task, output string) (float64, error) {
	if strings.TrimSpace(output) == "" {
		return 0, nil
	}
	h, err := j.resolver.Resolve(j.role, j.backend, domain.SkipFromContext(ctx)...)
	if err != nil {
		return j.fallbackScore(ctx, t, output, err)
	}
	resp, err := h.Invoke(ctx, judgePrompt(t, output))
	j.record(h, resp, err)
	if err != nil {
		return j.fallbackScore(ctx, t, output, err)
	}
	score, ok := ParseScore(resp.Text)
	if !ok {
		return j.fallbackScore(ctx, t, output, fmt.Errorf("judge reply has no score: %q", truncate(resp.Text, 120)))
	}
	return score, nil
}

func (j *Judge) record(h domain.Handle, resp domain.Response, err error) {
	if j.ledger == nil {
		return
	}
	sig := resp.Signal
	if rl, ok := domain.AsRateLimit(err); ok {
		sig = rl.Signal
	}
	rec := j.ledger.RecordOutcome(h.Name(), h.Model(), sig)
	if rec.Throttled {
		j.logger.Warn("judge backend %s throttled until %s", h.Name(), rec.ThrottledUntil.Format(time.RFC3339))
	}
}

func (j *Judge) fallbackScore(ctx context.Context, t task.Task, output string, cause error) (float64, error) {
	j.logger.Warn("judge unavailable for task %s, using fallback: %v", t.ID, cause)
	if j.fallback == nil {
		return 0, cause
	}
	return j.fallback.Evaluate(ctx, t, output)
}

func judgePrompt(t task.Task, output string) string {
	criteria := "(none)"
	if t.AcceptanceCriteria != nil {
		if data, err := jsonx.Marshal(t.AcceptanceCriteria); err == nil {
			criteria = string(data)
		}
	}
	var sb strings.Builder
	sb.WriteString("You are grading the output of a task.\n")
	fmt.Fprintf(&sb, "Task: %s\n", t.Title)
	fmt.Fprintf(&sb, "Acceptance criteria: %s\n", criteria)
	sb.WriteString("Output:\n<<<\n")
	sb.WriteString(output)
	sb.WriteString("\n>>>\n")
	sb.WriteString(`Reply with JSON only: {"score": <number between 0 and 1>, "reason": "<short reason>"}`)
	return sb.String()
}

// ParseScore extracts a score in [0,1] from a judge reply.
func ParseScore(reply string) (float64, bool) {
	text := stripFence(reply)
	if strings.HasPrefix(text, "{") {
		var parsed struct {
			Score *float64 `json:"score"`
		}
		if err := jsonx.Unmarshal([]byte(text), &parsed); err != nil {
			if repaired, rerr := jsonrepair.JSONRepair(text); rerr == nil {
				_ = jsonx.Unmarshal([]byte(repaired), &parsed)
			}
		}
		if parsed.Score != nil {
			return clamp(*parsed.Score), true
		}
	}
	for _, re := range []*regexp.Regexp{scorePattern, numberPattern} {
		if m := re.FindStringSubmatch(text); len(m) == 2 {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return clamp(v), true
			}
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
