package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	Enabled bool
}

// Metrics holds the engine's instruments. A nil or disabled Metrics ignores
// every call.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	taskAttempts   metric.Int64Counter
	taskOutcomes   metric.Int64Counter
	reward         metric.Float64Histogram
	backendCalls   metric.Int64Counter
	backendLatency metric.Float64Histogram
	tokens         metric.Int64Counter
	throttles      metric.Int64Counter
	runsActive     metric.Int64UpDownCounter
}

// NewMetrics creates instruments exported through a dedicated Prometheus
// registry.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if !config.Enabled {
		return &Metrics{}, nil
	}
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("conductor")

	m := &Metrics{provider: provider, registry: registry}
	if m.taskAttempts, err = meter.Int64Counter("conductor.task.attempts",
		metric.WithDescription("Task attempts started"), metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("failed to create task_attempts counter: %w", err)
	}
	if m.taskOutcomes, err = meter.Int64Counter("conductor.task.outcomes",
		metric.WithDescription("Task attempt outcomes by kind"), metric.WithUnit("{outcome}")); err != nil {
		return nil, fmt.Errorf("failed to create task_outcomes counter: %w", err)
	}
	if m.reward, err = meter.Float64Histogram("conductor.task.reward",
		metric.WithDescription("Evaluator rewards"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 0.7, 0.9, 1)); err != nil {
		return nil, fmt.Errorf("failed to create reward histogram: %w", err)
	}
	if m.backendCalls, err = meter.Int64Counter("conductor.backend.calls",
		metric.WithDescription("Backend invocations by status"), metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("failed to create backend_calls counter: %w", err)
	}
	if m.backendLatency, err = meter.Float64Histogram("conductor.backend.latency",
		metric.WithDescription("Backend invocation latency"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create backend_latency histogram: %w", err)
	}
	if m.tokens, err = meter.Int64Counter("conductor.backend.tokens",
		metric.WithDescription("Tokens exchanged with backends"), metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("failed to create tokens counter: %w", err)
	}
	if m.throttles, err = meter.Int64Counter("conductor.usage.throttled",
		metric.WithDescription("Usage signals that throttled a backend"), metric.WithUnit("{signal}")); err != nil {
		return nil, fmt.Errorf("failed to create throttles counter: %w", err)
	}
	if m.runsActive, err = meter.Int64UpDownCounter("conductor.runs.active",
		metric.WithDescription("Directive runs in progress"), metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create runs_active counter: %w", err)
	}
	return m, nil
}

// Handler serves the Prometheus exposition, or 404 when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordAttempt counts a task attempt for role.
func (m *Metrics) RecordAttempt(ctx context.Context, role string) {
	if m == nil || m.taskAttempts == nil {
		return
	}
	m.taskAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordOutcome counts an attempt outcome (accepted, requeued, escalated, failed).
func (m *Metrics) RecordOutcome(ctx context.Context, role, outcome string) {
	if m == nil || m.taskOutcomes == nil {
		return
	}
	m.taskOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("outcome", outcome),
	))
}

// RecordReward observes an evaluator reward.
func (m *Metrics) RecordReward(ctx context.Context, role string, reward float64) {
	if m == nil || m.reward == nil {
		return
	}
	m.reward.Record(ctx, reward, metric.WithAttributes(attribute.String("role", role)))
}

// RecordBackendCall records one backend invocation.
func (m *Metrics) RecordBackendCall(ctx context.Context, backend, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if m == nil || m.backendCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.backendCalls.Add(ctx, 1, attrs)
	m.backendLatency.Record(ctx, latency.Seconds(), attrs)
	if inputTokens > 0 {
		m.tokens.Add(ctx, int64(inputTokens), metric.WithAttributes(
			attribute.String("backend", backend), attribute.String("direction", "input")))
	}
	if outputTokens > 0 {
		m.tokens.Add(ctx, int64(outputTokens), metric.WithAttributes(
			attribute.String("backend", backend), attribute.String("direction", "output")))
	}
}

// RecordThrottle counts a signal that put a backend into throttle.
func (m *Metrics) RecordThrottle(ctx context.Context, backend string) {
	if m == nil || m.throttles == nil {
		return
	}
	m.throttles.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RunStarted and RunFinished track in-progress runs.
func (m *Metrics) RunStarted(ctx context.Context) {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Add(ctx, 1)
}

func (m *Metrics) RunFinished(ctx context.Context) {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Add(ctx, -1)
}
