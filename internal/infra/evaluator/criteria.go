package evaluator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"conductor/internal/domain/task"
	jsonx "conductor/internal/shared/json"
)

// Criteria scores output by the fraction of declared checks it passes.
//
// Recognized keys: mustContain, mustNotContain (string or list, case-insensitive),
// minLength, maxLength (runes), json (output must be a JSON document).
// A bare string criterion is a single mustContain; a list is mustContain.
// With no criteria any non-empty output scores 1.
type Criteria struct{}

// NewCriteria constructs a criteria evaluator.
func NewCriteria() *Criteria { return &Criteria{} }

func (c *Criteria) Evaluate(_ context.Context, t task.Task, output string) (float64, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return 0, nil
	}
	checks, err := compile(t.AcceptanceCriteria)
	if err != nil {
		return 0, err
	}
	if len(checks) == 0 {
		return 1, nil
	}
	passed := 0
	for _, check := range checks {
		if check(output) {
			passed++
		}
	}
	return float64(passed) / float64(len(checks)), nil
}

type check func(output string) bool

func compile(criteria any) ([]check, error) {
	switch v := criteria.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return containsChecks([]string{v}, true), nil
	case []any, []string:
		return containsChecks(toStrings(v), true), nil
	case map[string]any:
		return compileMap(v)
	default:
		return nil, fmt.Errorf("unsupported acceptance criteria %T", criteria)
	}
}

func compileMap(m map[string]any) ([]check, error) {
	var checks []check
	for key, raw := range m {
		switch strings.ToLower(key) {
		case "mustcontain", "must_contain":
			checks = append(checks, containsChecks(toStrings(raw), true)...)
		case "mustnotcontain", "must_not_contain":
			checks = append(checks, containsChecks(toStrings(raw), false)...)
		case "minlength", "min_length":
			n, ok := toInt(raw)
			if !ok {
				return nil, fmt.Errorf("minLength must be a number")
			}
			checks = append(checks, func(out string) bool { return utf8.RuneCountInString(out) >= n })
		case "maxlength", "max_length":
			n, ok := toInt(raw)
			if !ok {
				return nil, fmt.Errorf("maxLength must be a number")
			}
			checks = append(checks, func(out string) bool { return utf8.RuneCountInString(out) <= n })
		case "json":
			if want, _ := raw.(bool); want {
				checks = append(checks, func(out string) bool { return jsonx.Valid([]byte(stripFence(out))) })
			}
		}
	}
	return checks, nil
}

func containsChecks(needles []string, want bool) []check {
	var checks []check
	for _, n := range needles {
		needle := strings.ToLower(strings.TrimSpace(n))
		if needle == "" {
			continue
		}
		checks = append(checks, func(out string) bool {
			return strings.Contains(strings.ToLower(out), needle) == want
		})
	}
	return checks
}

func toStrings(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return nil
	}
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		return int(x), true
	case jsonx.Number:
		n, err := x.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
