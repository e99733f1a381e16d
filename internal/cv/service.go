// Package cv stores uploaded CVs and runs the analysis, rewrite, cover letter
// and export pipelines on top of the LLM service.
package cv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/llm"
	"interviewly/internal/storage"
	"interviewly/internal/tasks"
	"interviewly/internal/upload"
)

var (
	ErrNotFound          = errors.New("cv: not found")
	ErrInvalidInput      = errors.New("cv: invalid input")
	ErrTextUnavailable   = errors.New("cv: CV text not available for improvement")
	ErrNoRewrittenText   = errors.New("cv: no rewritten CV text available")
	ErrUnsupportedFormat = errors.New("cv: unsupported export format")
	// ErrPermanent marks processing failures that retrying cannot fix.
	ErrPermanent = errors.New("cv: permanent failure")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ObjectStore is the subset of storage.Client the pipelines use.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration, filename string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service 简历上传、分析、改写与求职信。
type Service struct {
	db      *gorm.DB
	store   ObjectStore
	queue   Enqueuer
	scanner upload.Scanner
	llm     *llm.Service
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(db *gorm.DB, store ObjectStore, queue Enqueuer, scanner upload.Scanner, llmService *llm.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if scanner == nil {
		scanner = upload.NewScanner("")
	}
	return &Service{
		db:      db,
		store:   store,
		queue:   queue,
		scanner: scanner,
		llm:     llmService,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UploadInput is a validated upload plus its analysis targets.
type UploadInput struct {
	File            *upload.File
	TargetJobTitle  string
	TargetSeniority string
	CorrelationID   string
}

// Upload scans and stores the file, records a pending analysis and queues it.
func (s *Service) Upload(ctx context.Context, userID uint, in UploadInput) (*database.CVAnalysis, error) {
	if in.File == nil {
		return nil, fmt.Errorf("%w: file is required", ErrInvalidInput)
	}
	if err := s.scanner.Scan(ctx, in.File.Data); err != nil {
		return nil, err
	}

	key := storage.CVUploadKey(userID, in.File.Ext)
	if err := s.store.Put(ctx, key, in.File.Data, in.File.ContentType); err != nil {
		return nil, fmt.Errorf("store cv: %w", err)
	}

	row := &database.CVAnalysis{
		UserID:          userID,
		Filename:        in.File.Name,
		ObjectKey:       key,
		FileSize:        int64(len(in.File.Data)),
		ContentType:     in.File.ContentType,
		TargetJobTitle:  strings.TrimSpace(in.TargetJobTitle),
		TargetSeniority: strings.ToLower(strings.TrimSpace(in.TargetSeniority)),
		Status:          database.StatusPending,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Model(&database.User{}).Where("id = ?", userID).
			UpdateColumn("total_cvs", gorm.Expr("total_cvs + ?", 1)).Error
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("cleanup orphaned cv object failed", slog.String("key", key), slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("create cv analysis: %w", err)
	}

	task, err := tasks.NewCVAnalyzeTask(row.ID, in.CorrelationID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, task, &database.CVAnalysis{}, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// enqueue 入队失败时把对应记录标记为 failed。
func (s *Service) enqueue(ctx context.Context, task *asynq.Task, model any, id uint) error {
	_, err := s.queue.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
	if err == nil {
		return nil
	}
	err = fmt.Errorf("enqueue %s: %w", task.Type(), err)
	markErr := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(map[string]any{
		"status":        database.StatusFailed,
		"error_message": "failed to queue task",
	}).Error
	if markErr != nil {
		s.logger.Error("mark unqueued row failed",
			slog.String("task_type", task.Type()),
			slog.Uint64("id", uint64(id)),
			slog.Any("error", markErr),
		)
		return errors.Join(err, fmt.Errorf("mark failed: %w", markErr))
	}
	return err
}

// Get returns one of the user's analyses.
func (s *Service) Get(ctx context.Context, userID, id uint) (*database.CVAnalysis, error) {
	var row database.CVAnalysis
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load cv analysis: %w", err)
	}
	return &row, nil
}

// List 按创建时间倒序分页。
func (s *Service) List(ctx context.Context, userID uint, limit, offset int) ([]database.CVAnalysis, int64, error) {
	limit, offset = clampPage(limit, offset)
	db := s.db.WithContext(ctx).Model(&database.CVAnalysis{}).Where("user_id = ?", userID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count cv analyses: %w", err)
	}
	var rows []database.CVAnalysis
	if err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list cv analyses: %w", err)
	}
	return rows, total, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Delete removes the analysis and its uploaded object.
func (s *Service) Delete(ctx context.Context, userID, id uint) error {
	row, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(row).Error; err != nil {
		return fmt.Errorf("delete cv analysis: %w", err)
	}
	if err := s.store.Delete(ctx, row.ObjectKey); err != nil {
		s.logger.Warn("delete cv object failed", slog.String("key", row.ObjectKey), slog.Any("error", err))
	}
	return nil
}

// Improve queues a rewrite of an analysed CV that applies the analysis feedback.
func (s *Service) Improve(ctx context.Context, userID, analysisID uint, style, correlationID string) (*database.CVRewrite, error) {
	if style == "" {
		style = database.StyleATSOptimized
	}
	if !llm.ValidStyle(style) {
		return nil, fmt.Errorf("%w: unknown style %q", ErrInvalidInput, style)
	}
	analysis, err := s.Get(ctx, userID, analysisID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(analysis.ExtractedText) == "" {
		return nil, ErrTextUnavailable
	}
	return s.createRewrite(ctx, &database.CVRewrite{
		UserID:         userID,
		CVAnalysisID:   &analysis.ID,
		Style:          style,
		TargetJobTitle: analysis.TargetJobTitle,
		JobDescription: improvementContext(analysis),
		OriginalText:   analysis.ExtractedText,
		ATSScoreBefore: analysis.ATSScore,
	}, correlationID)
}

// improvementContext 将分析结论整理成改写提示中的“职位描述”部分。
func improvementContext(a *database.CVAnalysis) string {
	var lines []string
	if len(a.Weaknesses) > 0 {
		lines = append(lines, "Fix these weaknesses:")
		for _, w := range a.Weaknesses {
			lines = append(lines, "- "+w)
		}
	}
	if len(a.Suggestions) > 0 {
		lines = append(lines, "", "Apply these suggestions:")
		for _, sug := range a.Suggestions {
			lines = append(lines, "- "+sug)
		}
	}
	if len(a.KeywordsMissing) > 0 {
		kw := []string(a.KeywordsMissing)
		if len(kw) > 10 {
			kw = kw[:10]
		}
		lines = append(lines, "", "Add these keywords: "+strings.Join(kw, ", "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// RewriteInput is a rewrite request. CVText wins over CVAnalysisID when both are set.
type RewriteInput struct {
	CVText               string
	CVAnalysisID         *uint
	Style                string
	TargetJobTitle       string
	TargetJobDescription string
	CorrelationID        string
}

// Rewrite queues a rewrite of pasted text or of a stored analysis.
func (s *Service) Rewrite(ctx context.Context, userID uint, in RewriteInput) (*database.CVRewrite, error) {
	if in.Style == "" {
		in.Style = database.StyleModern
	}
	if !llm.ValidStyle(in.Style) {
		return nil, fmt.Errorf("%w: unknown style %q", ErrInvalidInput, in.Style)
	}
	text := strings.TrimSpace(in.CVText)
	var analysisID *uint
	if text == "" && in.CVAnalysisID != nil {
		analysis, err := s.Get(ctx, userID, *in.CVAnalysisID)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(analysis.ExtractedText)
		analysisID = &analysis.ID
	}
	if text == "" {
		return nil, fmt.Errorf("%w: cv_text or cv_id with extracted text is required", ErrInvalidInput)
	}
	return s.createRewrite(ctx, &database.CVRewrite{
		UserID:         userID,
		CVAnalysisID:   analysisID,
		Style:          in.Style,
		TargetJobTitle: strings.TrimSpace(in.TargetJobTitle),
		JobDescription: strings.TrimSpace(in.TargetJobDescription),
		OriginalText:   text,
	}, in.CorrelationID)
}

func (s *Service) createRewrite(ctx context.Context, row *database.CVRewrite, correlationID string) (*database.CVRewrite, error) {
	row.Status = database.StatusPending
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create cv rewrite: %w", err)
	}
	task, err := tasks.NewCVRewriteTask(row.ID, correlationID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, task, &database.CVRewrite{}, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// GetRewrite returns one of the user's rewrites.
func (s *Service) GetRewrite(ctx context.Context, userID, id uint) (*database.CVRewrite, error) {
	var row database.CVRewrite
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load cv rewrite: %w", err)
	}
	return &row, nil
}

// CoverLetterInput is a cover letter request.
type CoverLetterInput struct {
	CVText         string
	CVAnalysisID   *uint
	JobTitle       string
	CompanyName    string
	JobDescription string
	Tone           string
	AdditionalInfo string
	CorrelationID  string
}

// CreateCoverLetter 校验输入并排队生成求职信。
func (s *Service) CreateCoverLetter(ctx context.Context, userID uint, in CoverLetterInput) (*database.CoverLetter, error) {
	if in.Tone == "" {
		in.Tone = database.ToneProfessional
	}
	if !llm.ValidTone(in.Tone) {
		return nil, fmt.Errorf("%w: unknown tone %q", ErrInvalidInput, in.Tone)
	}
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	in.CompanyName = strings.TrimSpace(in.CompanyName)
	in.JobDescription = strings.TrimSpace(in.JobDescription)
	if in.JobTitle == "" || in.CompanyName == "" || in.JobDescription == "" {
		return nil, fmt.Errorf("%w: job_title, company_name and job_description are required", ErrInvalidInput)
	}
	text := strings.TrimSpace(in.CVText)
	var analysisID *uint
	if text == "" && in.CVAnalysisID != nil {
		analysis, err := s.Get(ctx, userID, *in.CVAnalysisID)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(analysis.ExtractedText)
		analysisID = &analysis.ID
	}
	if text == "" {
		return nil, fmt.Errorf("%w: cv_text or cv_id with extracted text is required", ErrInvalidInput)
	}

	row := &database.CoverLetter{
		UserID:         userID,
		CVAnalysisID:   analysisID,
		Tone:           in.Tone,
		CVText:         text,
		JobTitle:       in.JobTitle,
		CompanyName:    in.CompanyName,
		JobDescription: in.JobDescription,
		AdditionalInfo: strings.TrimSpace(in.AdditionalInfo),
		Status:         database.StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create cover letter: %w", err)
	}
	task, err := tasks.NewCoverLetterTask(row.ID, in.CorrelationID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, task, &database.CoverLetter{}, row.ID); err != nil {
		return nil, err
	}
	return row, nil
}

// GetCoverLetter returns one of the user's cover letters.
func (s *Service) GetCoverLetter(ctx context.Context, userID, id uint) (*database.CoverLetter, error) {
	var row database.CoverLetter
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load cover letter: %w", err)
	}
	return &row, nil
}
