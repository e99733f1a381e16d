package llm

import (
	"context"
	"log/slog"

	"interviewly/internal/quota"
)

// TokenLogRecorder writes every model call to the token usage log so admin
// cost reports see it. Logging failures are reported and otherwise ignored.
func TokenLogRecorder(tokens *quota.TokenUsageService, logger *slog.Logger) UsageRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return RecorderFunc(func(ctx context.Context, u Usage) {
		// 请求可能已结束，写日志不跟随其取消。
		ctx = context.WithoutCancel(ctx)
		_, err := tokens.Log(ctx, quota.UsageEntry{
			UserID:       u.UserID,
			FeatureCode:  u.Feature,
			ModelName:    u.Model,
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			RequestID:    u.RequestID,
		})
		if err != nil {
			logger.Warn("record token usage failed",
				slog.String("model", u.Model),
				slog.String("feature", u.Feature),
				slog.Any("error", err),
			)
		}
	})
}
