package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "CONDUCTOR"
	ConfigName     = "conductor"
	DefaultBackend = "mock"
)

// Load reads configuration from path, or from ./conductor.yaml and
// ~/.conductor/conductor.yaml when path is empty. A missing default file is
// not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", ".conductor"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.applyFallbacks()
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.invoke_timeout", "2m")
	v.SetDefault("engine.retry_backoff", "2s")
	v.SetDefault("engine.idle_poll", "250ms")

	v.SetDefault("selector.epsilon", 0.2)
	v.SetDefault("selector.state_path", filepath.Join(".conductor", "arms.json"))

	v.SetDefault("trace.path", filepath.Join(".conductor", "trace.jsonl"))
	v.SetDefault("trace.subscriber_buffer", 256)

	v.SetDefault("evaluator.kind", "criteria")
	v.SetDefault("evaluator.static_reward", 1.0)

	v.SetDefault("retriever.kind", "noop")
	v.SetDefault("retriever.collection", "artifacts")
	v.SetDefault("retriever.top_k", 3)
	v.SetDefault("retriever.embedder", "hash")
	v.SetDefault("retriever.max_context_tokens", 2000)

	v.SetDefault("prompts.cache_size", 128)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.exporter", "otlp")
	v.SetDefault("observability.tracing.sample_rate", 1.0)

	v.SetDefault("server.addr", ":8080")
}

// applyFallbacks fills values viper cannot default, such as list entries.
func (c *Config) applyFallbacks() {
	if len(c.Backends) == 0 {
		c.Backends = []BackendConfig{{Name: DefaultBackend, Provider: "mock"}}
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
		if b.Provider == "" {
			b.Provider = "mock"
		}
	}
	c.Evaluator.Kind = strings.ToLower(strings.TrimSpace(c.Evaluator.Kind))
	c.Retriever.Kind = strings.ToLower(strings.TrimSpace(c.Retriever.Kind))
}

// Save writes cfg as YAML, creating parent directories.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
