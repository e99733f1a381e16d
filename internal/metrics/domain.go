package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LLM 调用结果标签。
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeFallback = "fallback"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM 调用次数，按提供方、功能与结果划分。",
		},
		[]string{"provider", "feature", "outcome"},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM 消耗的 token 数。",
		},
		[]string{"model", "direction"},
	)

	quotaDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "额度检查结果。",
		},
		[]string{"feature", "decision"},
	)

	activeConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "interview",
			Name:      "active_conversations",
			Help:      "Conversational interviews currently held in the session store.",
		},
	)
)

// ObserveLLMCall counts one completion attempt.
func ObserveLLMCall(provider, feature, outcome string) {
	llmCallsTotal.WithLabelValues(provider, feature, outcome).Inc()
}

// ObserveLLMTokens adds prompt and completion token counts for a model.
func ObserveLLMTokens(model string, input, output int) {
	if input > 0 {
		llmTokensTotal.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		llmTokensTotal.WithLabelValues(model, "output").Add(float64(output))
	}
}

// ObserveQuotaDecision records allow / soft_exceeded / exceeded / disabled.
func ObserveQuotaDecision(feature, decision string) {
	quotaDecisionsTotal.WithLabelValues(feature, decision).Inc()
}

// SetActiveConversations reports the size of the conversation store.
func SetActiveConversations(n int) {
	activeConversations.Set(float64(n))
}
