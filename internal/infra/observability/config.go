// Package observability builds the process logger, metric instruments and
// tracer provider.
package observability

// Config groups the observability sections.
type Config struct {
	Logging LogConfig
	Metrics MetricsConfig
	Tracing TracingConfig
}

// DefaultConfig returns text logging at info, metrics on and tracing off.
func DefaultConfig() Config {
	return Config{
		Logging: LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true},
		Tracing: TracingConfig{
			Exporter:       "otlp",
			OTLPEndpoint:   "localhost:4318",
			SampleRate:     1.0,
			ServiceName:    "conductor",
			ServiceVersion: "0.1.0",
		},
	}
}
