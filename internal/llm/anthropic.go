package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMaxTokens = 4096
)

// Anthropic calls the Messages API.
type Anthropic struct {
	client      *resty.Client
	model       string
	temperature float64
}

func NewAnthropic(apiKey, baseURL, model string, temperature float64, timeout time.Duration) *Anthropic {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", anthropicVersion).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Anthropic{client: client, model: model, temperature: temperature}
}

func (p *Anthropic) Name() string  { return ProviderAnthropic }
func (p *Anthropic) Model() string { return p.model }

func (p *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range alternateTurns(req.Messages) {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}
	temperature := p.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	maxTokens := anthropicMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	body := map[string]any{
		"model":       p.model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages":    messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}

	resp, err := p.client.R().SetContext(ctx).SetBody(body).Post("/v1/messages")
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request: %w", err)
	}
	raw := resp.String()
	if resp.IsError() {
		return Response{}, fmt.Errorf("anthropic status %d: %s", resp.StatusCode(), gjson.Get(raw, "error.message").String())
	}

	text := gjson.Get(raw, "content.0.text").String()
	if strings.TrimSpace(text) == "" {
		return Response{}, ErrEmptyResponse
	}
	model := gjson.Get(raw, "model").String()
	if model == "" {
		model = p.model
	}
	return Response{
		Text:         text,
		Model:        model,
		InputTokens:  int(gjson.Get(raw, "usage.input_tokens").Int()),
		OutputTokens: int(gjson.Get(raw, "usage.output_tokens").Int()),
	}, nil
}

// alternateTurns 满足 Messages API 的约束：以 user 开头且角色交替，相邻同角色消息合并。
func alternateTurns(in []Message) []Message {
	out := make([]Message, 0, len(in)+1)
	for _, m := range in {
		if len(out) == 0 && m.Role != RoleUser {
			out = append(out, Message{Role: RoleUser, Content: "Let's begin."})
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
