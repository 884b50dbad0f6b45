// Package config loads conductor.yaml through viper with CONDUCTOR_ environment
// overrides.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine" yaml:"engine"`
	Selector      SelectorConfig      `mapstructure:"selector" yaml:"selector"`
	Trace         TraceConfig         `mapstructure:"trace" yaml:"trace"`
	Backends      []BackendConfig     `mapstructure:"backends" yaml:"backends"`
	Arms          []ArmConfig         `mapstructure:"arms" yaml:"arms,omitempty"`
	Evaluator     EvaluatorConfig     `mapstructure:"evaluator" yaml:"evaluator"`
	Retriever     RetrieverConfig     `mapstructure:"retriever" yaml:"retriever"`
	Prompts       PromptsConfig       `mapstructure:"prompts" yaml:"prompts"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Schedules     []ScheduleConfig    `mapstructure:"schedules" yaml:"schedules,omitempty"`
}

type EngineConfig struct {
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"`
	InvokeTimeout time.Duration `mapstructure:"invoke_timeout" yaml:"invoke_timeout"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	IdlePoll      time.Duration `mapstructure:"idle_poll" yaml:"idle_poll"`
}

type SelectorConfig struct {
	Epsilon   float64 `mapstructure:"epsilon" yaml:"epsilon"`
	StatePath string  `mapstructure:"state_path" yaml:"state_path"`
	Seed      uint64  `mapstructure:"seed" yaml:"seed,omitempty"`
}

type TraceConfig struct {
	Path             string `mapstructure:"path" yaml:"path"`
	SubscriberBuffer int    `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// BackendConfig declares one model backend.
type BackendConfig struct {
	Name              string        `mapstructure:"name" yaml:"name"`
	Provider          string        `mapstructure:"provider" yaml:"provider"`
	Model             string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKeyEnv         string        `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Roles             []string      `mapstructure:"roles" yaml:"roles,omitempty"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second,omitempty"`
	Burst             int           `mapstructure:"burst" yaml:"burst,omitempty"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature,omitempty"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	MockResponse      string        `mapstructure:"mock_response" yaml:"mock_response,omitempty"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// ArmConfig declares an extra arm beyond the defaults seeded per role.
type ArmConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Role          string `mapstructure:"role" yaml:"role"`
	Backend       string `mapstructure:"backend" yaml:"backend,omitempty"`
	PromptVariant string `mapstructure:"prompt_variant" yaml:"prompt_variant,omitempty"`
}

type EvaluatorConfig struct {
	Kind         string  `mapstructure:"kind" yaml:"kind"`
	JudgeBackend string  `mapstructure:"judge_backend" yaml:"judge_backend,omitempty"`
	StaticReward float64 `mapstructure:"static_reward" yaml:"static_reward,omitempty"`
}

type RetrieverConfig struct {
	Kind             string  `mapstructure:"kind" yaml:"kind"`
	PersistPath      string  `mapstructure:"persist_path" yaml:"persist_path,omitempty"`
	Collection       string  `mapstructure:"collection" yaml:"collection,omitempty"`
	TopK             int     `mapstructure:"top_k" yaml:"top_k,omitempty"`
	MinSimilarity    float32 `mapstructure:"min_similarity" yaml:"min_similarity,omitempty"`
	Embedder         string  `mapstructure:"embedder" yaml:"embedder,omitempty"`
	MaxContextTokens int     `mapstructure:"max_context_tokens" yaml:"max_context_tokens,omitempty"`
	FetchURLs        bool    `mapstructure:"fetch_urls" yaml:"fetch_urls,omitempty"`
}

type PromptsConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir,omitempty"`
	CacheSize int    `mapstructure:"cache_size" yaml:"cache_size,omitempty"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter,omitempty"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint,omitempty"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate,omitempty"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ScheduleConfig runs a directive file on a cron expression.
type ScheduleConfig struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Schedule  string `mapstructure:"schedule" yaml:"schedule"`
	Directive string `mapstructure:"directive" yaml:"directive"`
}
