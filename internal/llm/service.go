package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"interviewly/internal/metrics"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRequestID
)

// WithUser tags calls made with ctx so token usage is attributed to userID.
func WithUser(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRequestID 关联请求或任务的 correlation id。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

// Usage is the accounting record of one completion.
type Usage struct {
	UserID       *uint
	Feature      string
	Model        string
	InputTokens  int
	OutputTokens int
	RequestID    string
}

// UsageRecorder persists token usage; failures are the recorder's concern.
type UsageRecorder interface {
	RecordLLMUsage(ctx context.Context, u Usage)
}

// RecorderFunc adapts a function to UsageRecorder.
type RecorderFunc func(ctx context.Context, u Usage)

func (f RecorderFunc) RecordLLMUsage(ctx context.Context, u Usage) { f(ctx, u) }

// Service 封装各业务场景的提示词；提供方缺失或调用失败时返回预置结果。
type Service struct {
	provider Provider
	embedder Embedder
	recorder UsageRecorder
	logger   *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewService(provider Provider, embedder Embedder, recorder UsageRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	seed := uint64(time.Now().UnixNano())
	return &Service{
		provider: provider,
		embedder: embedder,
		recorder: recorder,
		logger:   logger,
		rnd:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Configured reports whether a real provider is wired.
func (s *Service) Configured() bool { return s.provider != nil }

// ProviderName returns the active provider or "none".
func (s *Service) ProviderName() string {
	if s.provider == nil {
		return ProviderNone
	}
	return s.provider.Name()
}

// CanEmbed reports whether Embed is backed by a real model.
func (s *Service) CanEmbed() bool { return s.embedder != nil }

// Embed returns the embedding of text, or ErrUnavailable.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, ErrUnavailable
	}
	return s.embedder.Embed(ctx, text)
}

// complete runs req and records usage. Any failure is logged and reported as ok=false.
func (s *Service) complete(ctx context.Context, feature string, req Request) (Response, bool) {
	if s.provider == nil {
		metrics.ObserveLLMCall(ProviderNone, feature, metrics.OutcomeFallback)
		return Response{}, false
	}
	resp, err := s.provider.Complete(ctx, req)
	if err != nil {
		metrics.ObserveLLMCall(s.provider.Name(), feature, metrics.OutcomeError)
		s.logger.Warn("llm call failed, using fallback",
			slog.String("provider", s.provider.Name()),
			slog.String("feature", feature),
			slog.Any("error", err),
		)
		return Response{}, false
	}
	metrics.ObserveLLMCall(s.provider.Name(), feature, metrics.OutcomeSuccess)
	metrics.ObserveLLMTokens(resp.Model, resp.InputTokens, resp.OutputTokens)
	s.record(ctx, feature, resp)
	return resp, true
}

func (s *Service) record(ctx context.Context, feature string, resp Response) {
	if s.recorder == nil {
		return
	}
	u := Usage{
		Feature:      feature,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if id, ok := ctx.Value(ctxUserID).(uint); ok {
		u.UserID = &id
	}
	if rid, ok := ctx.Value(ctxRequestID).(string); ok {
		u.RequestID = rid
	}
	s.recorder.RecordLLMUsage(ctx, u)
}

var errInvalidShape = errors.New("llm: response missing required fields")

// completeJSON 调用模型并把 JSON 结果解到 out；required 中的字段必须存在。
func (s *Service) completeJSON(ctx context.Context, feature string, req Request, out any, required ...string) bool {
	req.JSON = true
	resp, ok := s.complete(ctx, feature, req)
	if !ok {
		return false
	}
	doc, ok := ExtractJSON(resp.Text)
	if ok && !hasKeys(doc, required...) {
		ok = false
	}
	if ok {
		if err := json.Unmarshal([]byte(doc), out); err == nil {
			return true
		}
	}
	s.logger.Warn("llm returned unusable json, using fallback",
		slog.String("feature", feature),
		slog.Any("error", errInvalidShape),
	)
	return false
}

// intn returns a random int in [lo, hi].
func (s *Service) intn(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rnd.IntN(hi-lo+1)
}

func (s *Service) pick(options []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return options[s.rnd.IntN(len(options))]
}
