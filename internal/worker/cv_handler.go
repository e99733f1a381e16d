package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"interviewly/internal/cv"
	"interviewly/internal/database"
	"interviewly/internal/errcode"
	"interviewly/internal/tasks"
)

// CVTaskHandler 消费简历分析、改写、求职信与 PDF 导出任务。
type CVTaskHandler struct {
	db       *gorm.DB
	cv       *cv.Service
	renderer cv.Renderer
	notifier Notifier
	logger   *slog.Logger
}

func NewCVTaskHandler(db *gorm.DB, cvService *cv.Service, renderer cv.Renderer, notifier Notifier, logger *slog.Logger) *CVTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CVTaskHandler{db: db, cv: cvService, renderer: renderer, notifier: notifier, logger: logger}
}

// Register mounts every CV task type on mux.
func (h *CVTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeCVAnalyze, h.ProcessAnalyze)
	mux.HandleFunc(tasks.TypeCVRewrite, h.ProcessRewrite)
	mux.HandleFunc(tasks.TypeCoverLetterGenerate, h.ProcessCoverLetter)
	mux.HandleFunc(tasks.TypeCVExportPDF, h.ProcessExport)
}

func (h *CVTaskHandler) ProcessAnalyze(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CVAnalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return h.handle(ctx, taskRun{
		taskType:      t.Type(),
		id:            payload.CVAnalysisID,
		correlationID: payload.CorrelationID,
		model:         &database.CVAnalysis{},
		markFailed:    true,
		run: func(ctx context.Context) (uint, error) {
			row, err := h.cv.RunAnalysis(ctx, payload.CVAnalysisID)
			if err != nil {
				return 0, err
			}
			return row.UserID, nil
		},
	})
}

func (h *CVTaskHandler) ProcessRewrite(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CVRewritePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return h.handle(ctx, taskRun{
		taskType:      t.Type(),
		id:            payload.RewriteID,
		correlationID: payload.CorrelationID,
		model:         &database.CVRewrite{},
		markFailed:    true,
		run: func(ctx context.Context) (uint, error) {
			row, err := h.cv.RunRewrite(ctx, payload.RewriteID)
			if err != nil {
				return 0, err
			}
			return row.UserID, nil
		},
	})
}

func (h *CVTaskHandler) ProcessCoverLetter(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CoverLetterPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return h.handle(ctx, taskRun{
		taskType:      t.Type(),
		id:            payload.CoverLetterID,
		correlationID: payload.CorrelationID,
		model:         &database.CoverLetter{},
		markFailed:    true,
		run: func(ctx context.Context) (uint, error) {
			row, err := h.cv.RunCoverLetter(ctx, payload.CoverLetterID)
			if err != nil {
				return 0, err
			}
			return row.UserID, nil
		},
	})
}

// ProcessExport 渲染 PDF；失败不改动改写记录本身的状态。
func (h *CVTaskHandler) ProcessExport(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CVExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return h.handle(ctx, taskRun{
		taskType:      t.Type(),
		id:            payload.RewriteID,
		correlationID: payload.CorrelationID,
		model:         &database.CVRewrite{},
		run: func(ctx context.Context) (uint, error) {
			row, err := h.cv.RunExport(ctx, payload.RewriteID, h.renderer)
			if err != nil {
				return 0, err
			}
			return row.UserID, nil
		},
	})
}

type taskRun struct {
	taskType      string
	id            uint
	correlationID string
	model         any
	markFailed    bool
	run           func(ctx context.Context) (userID uint, err error)
}

func (h *CVTaskHandler) handle(ctx context.Context, r taskRun) (retErr error) {
	log := h.logger.With(
		slog.String("correlation_id", r.correlationID),
		slog.String("task_type", r.taskType),
		slog.Uint64("entity_id", uint64(r.id)),
	)
	log.Info("task started")

	userID, err := r.run(ctx)
	if errors.Is(err, cv.ErrNotFound) {
		log.Warn("row not found, skipping task")
		return nil
	}
	if err == nil {
		log.Info("task completed", slog.Uint64("user_id", uint64(userID)))
		h.notify(ctx, log, userID, TaskNotifyMessage{
			Type:          r.taskType,
			Status:        StatusCompleted,
			EntityID:      r.id,
			CorrelationID: r.correlationID,
			ErrorCode:     errcode.OK,
		})
		return nil
	}

	permanent := errors.Is(err, cv.ErrPermanent)
	log.Error("task failed", slog.Bool("permanent", permanent), slog.Any("error", err))
	if !permanent && !isFinalAsynqAttempt(ctx) {
		return err
	}

	// 可重试错误在最后一次尝试时才落库为 failed；永久错误已由服务层记录原因。
	if r.markFailed && !permanent {
		if markErr := h.cv.MarkFailed(ctx, r.model, r.id, strings.TrimSpace(err.Error())); markErr != nil {
			log.Error("mark row failed", slog.Any("error", markErr))
		}
	}
	if owner, ok := h.ownerOf(ctx, r.model, r.id); ok {
		h.notify(ctx, log, owner, TaskNotifyMessage{
			Type:          r.taskType,
			Status:        StatusError,
			EntityID:      r.id,
			CorrelationID: r.correlationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(err.Error()),
		})
	}
	if permanent {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

func (h *CVTaskHandler) ownerOf(ctx context.Context, model any, id uint) (uint, bool) {
	var owners []uint
	if err := h.db.WithContext(ctx).Model(model).Where("id = ?", id).Pluck("user_id", &owners).Error; err != nil || len(owners) == 0 {
		return 0, false
	}
	return owners[0], true
}

func (h *CVTaskHandler) notify(ctx context.Context, log *slog.Logger, userID uint, msg TaskNotifyMessage) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(ctx, userID, msg); err != nil {
		log.Error("publish task notification failed", slog.Any("error", err))
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
