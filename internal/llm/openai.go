package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// OpenAI calls the chat completions endpoint of any OpenAI-compatible API.
type OpenAI struct {
	client      *resty.Client
	model       string
	temperature float64
}

func NewOpenAI(apiKey, baseURL, model string, temperature float64, timeout time.Duration) *OpenAI {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &OpenAI{client: client, model: model, temperature: temperature}
}

func (p *OpenAI) Name() string  { return ProviderOpenAI }
func (p *OpenAI) Model() string { return p.model }

func (p *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	temperature := p.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	body := map[string]any{
		"model":       p.model,
		"messages":    messages,
		"temperature": temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	// 仅 gpt-4 系列支持 json_object 输出格式。
	if req.JSON && strings.Contains(p.model, "gpt-4") {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	resp, err := p.client.R().SetContext(ctx).SetBody(body).Post("/chat/completions")
	if err != nil {
		return Response{}, fmt.Errorf("openai request: %w", err)
	}
	raw := resp.String()
	if resp.IsError() {
		return Response{}, fmt.Errorf("openai status %d: %s", resp.StatusCode(), gjson.Get(raw, "error.message").String())
	}

	text := gjson.Get(raw, "choices.0.message.content").String()
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
		InputTokens:  int(gjson.Get(raw, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.Get(raw, "usage.completion_tokens").Int()),
	}, nil
}
