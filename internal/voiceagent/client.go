package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"interviewly/internal/interview"
)

// Backend is the part of the API the sidecar talks to.
type Backend interface {
	SaveTranscript(ctx context.Context, sessionID string, t interview.Transcript) error
	Finish(ctx context.Context, sessionID string, questionsAsked int) error
}

// ErrSessionGone 后端已不存在该面试会话，继续保存没有意义。
var ErrSessionGone = errors.New("voiceagent: interview session not found")

// Client calls the internal transcript endpoints with the shared secret.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("voiceagent: backend url missing")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("voiceagent: internal api secret missing")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-Internal-Secret", secret).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{http: c}, nil
}

func (c *Client) SaveTranscript(ctx context.Context, sessionID string, t interview.Transcript) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(t).
		Put("/internal/interview/" + url.PathEscape(sessionID) + "/transcript")
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return checkStatus(resp, "save transcript")
}

func (c *Client) Finish(ctx context.Context, sessionID string, questionsAsked int) error {
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]int{"questions_asked": questionsAsked}).
		Post("/internal/interview/" + url.PathEscape(sessionID) + "/voice-finish")
	if err != nil {
		return fmt.Errorf("finish interview: %w", err)
	}
	return checkStatus(resp, "finish interview")
}

func checkStatus(resp *resty.Response, op string) error {
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode() == 404 {
		return ErrSessionGone
	}
	msg := gjson.Get(resp.String(), "error").String()
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
	}
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), msg)
}
