// Package llm wraps the chat-completion providers used for interview
// questions, answer scoring, CV analysis and letter writing.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"interviewly/internal/config"
)

// 提供方名称。
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderNone      = "none"
)

var (
	// ErrUnavailable is returned when no provider is configured.
	ErrUnavailable = errors.New("llm: no provider configured")
	// ErrEmptyResponse is returned when the provider answered without text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Message 多轮对话中的一条，Role 为 user 或 assistant。
type Message struct {
	Role    string
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is a single completion call.
type Request struct {
	System   string
	Messages []Message
	// JSON 要求提供方只输出 JSON。
	JSON bool
	// Temperature 为 0 时使用提供方默认值。
	Temperature float64
	MaxTokens   int
}

// Prompt builds a single-turn request.
func Prompt(system, user string) Request {
	return Request{System: system, Messages: []Message{{Role: RoleUser, Content: user}}}
}

// Response carries the generated text and token accounting.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// NewProvider builds the provider selected by cfg. It returns (nil, nil) when the
// selected provider has no API key, so callers fall back to canned responses.
func NewProvider(ctx context.Context, cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.Temperature, cfg.Timeout), nil
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, nil
		}
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.Model, cfg.Temperature, cfg.Timeout), nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, nil
		}
		return NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.EmbeddingModel, cfg.Temperature)
	case ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// NewEmbedder returns a Gemini embedder when a Gemini key is configured, otherwise nil.
func NewEmbedder(ctx context.Context, cfg config.LLMConfig) (Embedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, nil
	}
	return NewGemini(ctx, cfg.GeminiAPIKey, "", cfg.EmbeddingModel, cfg.Temperature)
}
