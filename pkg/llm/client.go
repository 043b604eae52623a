// Package llm wraps an OpenAI-compatible chat completion endpoint
// behind the minimal interface the pipeline needs: send a prompt, get
// text back. Everything that interprets model output (fence stripping,
// JSON extraction) lives here too so callers share one set of rules.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// ErrUnavailable is returned by Complete when no provider is
// configured. Callers degrade per their own policy: the canonicaliser
// emits a mapping failure, the gate applies its failover setting.
var ErrUnavailable = errors.New("llm provider not configured")

// Request is one chat completion call. Model overrides the client
// default when set; System may be empty for single-message prompts.
type Request struct {
	System string
	User   string
	Model  string
}

// Completion is a model response plus token accounting for cost
// estimation. Token counts are zero when the provider omits usage.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// ChatModel is the surface consumed by the canonicaliser, the pattern
// compiler, and the gate evaluator.
type ChatModel interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Available() bool
}

// Client talks to an OpenAI-compatible endpoint. A client constructed
// without an API key is valid but permanently unavailable.
type Client struct {
	api *openai.Client
	cfg Config
}

// NewClient creates a chat model client. BaseURL switches the client to
// a local or proxied OpenAI-compatible server.
func NewClient(cfg Config) *Client {
	if cfg.APIKey == "" {
		slog.Warn("No LLM API key configured, mapping synthesis and gating will be unavailable")
		return &Client{cfg: cfg}
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	slog.Info("LLM client configured", "provider", cfg.Provider, "model", cfg.Model, "base_url", cfg.BaseURL)
	return &Client{api: openai.NewClientWithConfig(apiCfg), cfg: cfg}
}

// Available reports whether completions can be attempted.
func (c *Client) Available() bool {
	return c.api != nil
}

// Model returns the default model name used when a request does not
// override it.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete issues one chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	if c.api == nil {
		return nil, ErrUnavailable
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               model,
		Messages:            messages,
		Temperature:         c.cfg.Temperature,
		MaxCompletionTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
