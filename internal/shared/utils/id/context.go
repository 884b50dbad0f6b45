package id

import "context"

type contextKey string

const (
	runKey       contextKey = "conductor_run_id"
	directiveKey contextKey = "conductor_directive_id"
	logKey       contextKey = "conductor_log_id"
)

// WithRunID stores the current run identifier on the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	return stringValue(ctx, runKey)
}

// WithDirectiveID stores the directive identifier on the context.
func WithDirectiveID(ctx context.Context, directiveID string) context.Context {
	if directiveID == "" {
		return ctx
	}
	return context.WithValue(ctx, directiveKey, directiveID)
}

// DirectiveIDFromContext returns the directive identifier, or "".
func DirectiveIDFromContext(ctx context.Context) string {
	return stringValue(ctx, directiveKey)
}

// WithLogID stores a log correlation identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// LogIDFromContext returns the log correlation identifier, or "".
func LogIDFromContext(ctx context.Context) string {
	return stringValue(ctx, logKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
