package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	domain "conductor/internal/domain/backend"
	jsonx "conductor/internal/shared/json"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIClient speaks the OpenAI-compatible chat completions API.
type openAIClient struct {
	baseClient
}

// NewOpenAIClient constructs a chat completions client.
func NewOpenAIClient(c Config) Client {
	return &openAIClient{baseClient: newBaseClient(c, defaultOpenAIBaseURL, "backend-openai")}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *openAIClient) Complete(ctx context.Context, req domain.Request) (domain.Response, error) {
	body, err := jsonx.Marshal(openAIRequest{
		Model:       c.model,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return domain.Response{}, fmt.Errorf("marshal request: %w", err)
	}

	raw, signal, err := c.exchange(ctx, c.baseURL+"/chat/completions", body, func(h http.Header) {
		if c.apiKey != "" {
			h.Set("Authorization", "Bearer "+c.apiKey)
		}
	})
	if err != nil {
		return domain.Response{Signal: signal}, err
	}

	var parsed openAIResponse
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return domain.Response{Signal: signal}, &domain.TransientError{Backend: c.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return domain.Response{Signal: signal}, &domain.TransientError{Backend: c.name, Err: errors.New("response has no choices")}
	}
	resp := domain.Response{
		Text:   strings.TrimSpace(parsed.Choices[0].Message.Content),
		Signal: signal,
	}
	if parsed.Usage.PromptTokens > 0 || parsed.Usage.CompletionTokens > 0 {
		resp.Usage = &domain.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		}
	}
	return resp, nil
}
