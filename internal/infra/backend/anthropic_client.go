package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	domain "conductor/internal/domain/backend"
	jsonx "conductor/internal/shared/json"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	defaultAnthropicVersion = "2023-06-01"
	defaultAnthropicTokens  = 1024
)

// anthropicClient speaks the Anthropic messages API.
type anthropicClient struct {
	baseClient
}

// NewAnthropicClient constructs a messages API client.
func NewAnthropicClient(c Config) Client {
	return &anthropicClient{baseClient: newBaseClient(c, defaultAnthropicBaseURL, "backend-anthropic")}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *anthropicClient) Complete(ctx context.Context, req domain.Request) (domain.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicTokens
	}
	body, err := jsonx.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return domain.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	raw, signal, err := c.exchange(ctx, c.baseURL+"/messages", body, func(h http.Header) {
		h.Set("anthropic-version", defaultAnthropicVersion)
		if c.apiKey != "" {
			h.Set("x-api-key", c.apiKey)
		}
	})
	if err != nil {
		return domain.Response{Signal: signal}, err
	}

	var parsed anthropicResponse
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return domain.Response{Signal: signal}, &domain.TransientError{Backend: c.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	resp := domain.Response{Text: strings.TrimSpace(sb.String()), Signal: signal}
	if parsed.Usage.InputTokens > 0 || parsed.Usage.OutputTokens > 0 {
		resp.Usage = &domain.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		}
	}
	return resp, nil
}
