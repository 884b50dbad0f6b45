package backend

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"

	defaultTimeout = 60 * time.Second
)

// Config describes one registered backend.
type Config struct {
	Name              string
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	APIKeyEnv         string
	Roles             []string
	RequestsPerSecond float64
	Burst             int
	Temperature       float64
	MaxTokens         int
	Timeout           time.Duration
	Headers           map[string]string
	MockResponse      string
}

// ResolveAPIKey returns the inline key or the value of APIKeyEnv.
func (c Config) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// ServesRole reports whether the backend is eligible for role. An empty role
// list means every role.
func (c Config) ServesRole(role string) bool {
	if len(c.Roles) == 0 {
		return true
	}
	for _, r := range c.Roles {
		if r == role || r == "*" {
			return true
		}
	}
	return false
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Provider == "" {
		c.Provider = ProviderMock
	}
	if c.Model == "" {
		c.Model = c.Provider
	}
	return c
}

// NewClient builds the provider client for c.
func NewClient(c Config) (Client, error) {
	c = c.withDefaults()
	switch strings.ToLower(c.Provider) {
	case ProviderOpenAI:
		return NewOpenAIClient(c), nil
	case ProviderAnthropic:
		return NewAnthropicClient(c), nil
	case ProviderMock:
		return NewStaticClient(c.MockResponse), nil
	default:
		return nil, fmt.Errorf("backend %s: unsupported provider %q", c.Name, c.Provider)
	}
}
