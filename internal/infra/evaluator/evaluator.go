// Package evaluator scores backend output against acceptance criteria.
package evaluator

import (
	"context"
	"fmt"
	"strings"

	domain "conductor/internal/domain/backend"
	"conductor/internal/domain/ports"
	"conductor/internal/domain/task"
	"conductor/internal/domain/usage"
	"conductor/internal/shared/logging"
)

const (
	KindStatic   = "static"
	KindCriteria = "criteria"
	KindJudge    = "judge"
)

// Config selects and parameterizes an evaluator.
type Config struct {
	Kind         string
	StaticReward float64
	JudgeBackend string
	JudgeRole    string
}

// New builds the evaluator named by cfg.Kind. The judge records its calls in
// ledger when one is given.
func New(cfg Config, resolver domain.Resolver, ledger *usage.Ledger, logger logging.Logger) (ports.Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindCriteria:
		return NewCriteria(), nil
	case KindStatic:
		return Static(cfg.StaticReward), nil
	case KindJudge:
		if resolver == nil {
			return nil, fmt.Errorf("judge evaluator requires a backend resolver")
		}
		return NewJudge(resolver, ledger, cfg.JudgeRole, cfg.JudgeBackend, NewCriteria(), logger), nil
	default:
		return nil, fmt.Errorf("unknown evaluator kind %q", cfg.Kind)
	}
}

// Static returns the same reward for every output.
type Static float64

func (s Static) Evaluate(context.Context, task.Task, string) (float64, error) {
	return clamp(float64(s)), nil
}

// Func adapts a function to ports.Evaluator.
type Func func(ctx context.Context, t task.Task, output string) (float64, error)

func (f Func) Evaluate(ctx context.Context, t task.Task, output string) (float64, error) {
	return f(ctx, t, output)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
