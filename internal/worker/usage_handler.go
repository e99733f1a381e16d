package worker

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"interviewly/internal/quota"
)

// UsageResetHandler 定时删除已过计费周期的用量记录。
type UsageResetHandler struct {
	quota  *quota.Service
	logger *slog.Logger
}

func NewUsageResetHandler(quotaService *quota.Service, logger *slog.Logger) *UsageResetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageResetHandler{quota: quotaService, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *UsageResetHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	n, err := h.quota.ResetExpired(ctx)
	if err != nil {
		h.logger.Error("reset expired usage failed", slog.Any("error", err))
		return err
	}
	h.logger.Info("expired usage rows removed", slog.Int64("count", n))
	return nil
}
