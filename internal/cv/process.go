package cv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/llm"
	"interviewly/internal/storage"
)

// 以下方法由 worker 调用，不校验归属。

// RunAnalysis extracts the text of an uploaded CV and stores the LLM analysis.
// A completed analysis is returned unchanged.
func (s *Service) RunAnalysis(ctx context.Context, id uint) (*database.CVAnalysis, error) {
	var row database.CVAnalysis
	if err := s.loadForProcessing(ctx, &row, id); err != nil {
		return nil, err
	}
	if row.Status == database.StatusCompleted {
		return &row, nil
	}

	data, err := s.store.Get(ctx, row.ObjectKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			if markErr := s.MarkFailed(ctx, &database.CVAnalysis{}, id, "Uploaded file is no longer available"); markErr != nil {
				s.logger.Error("mark cv analysis failed", slog.Uint64("cv_analysis_id", uint64(id)), slog.Any("error", markErr))
			}
			return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		return nil, fmt.Errorf("download cv: %w", err)
	}
	text, err := ExtractText(path.Ext(row.Filename), data)
	if err != nil {
		msg := "Text extraction failed: " + err.Error()
		if markErr := s.MarkFailed(ctx, &database.CVAnalysis{}, id, msg); markErr != nil {
			s.logger.Error("mark cv analysis failed", slog.Uint64("cv_analysis_id", uint64(id)), slog.Any("error", markErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	ctx = llm.WithUser(ctx, row.UserID)
	parsed, err := json.Marshal(s.llm.ParseCV(ctx, text, row.TargetJobTitle))
	if err != nil {
		return nil, fmt.Errorf("encode parsed cv: %w", err)
	}
	result := s.llm.AnalyzeCV(ctx, text, row.TargetJobTitle, row.TargetSeniority)

	breakdown := datatypes.JSONMap{}
	for k, v := range result.ScoresBreakdown {
		breakdown[k] = v
	}
	now := s.now()
	updates := map[string]any{
		"status":           database.StatusCompleted,
		"extracted_text":   text,
		"parsed_data":      datatypes.JSON(parsed),
		"overall_score":    result.OverallScore,
		"ats_score":        result.ATSScore,
		"scores_breakdown": breakdown,
		"strengths":        datatypes.NewJSONSlice(result.Strengths),
		"weaknesses":       datatypes.NewJSONSlice(result.Weaknesses),
		"suggestions":      datatypes.NewJSONSlice(result.Suggestions),
		"keywords_found":   datatypes.NewJSONSlice(result.KeywordsFound),
		"keywords_missing": datatypes.NewJSONSlice(result.KeywordsMissing),
		"error_message":    "",
		"completed_at":     now,
	}
	if err := s.db.WithContext(ctx).Model(&row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("store cv analysis: %w", err)
	}
	return reloadInto(ctx, s.db, &row, id)
}

// RunRewrite produces the rewritten CV for a pending rewrite.
func (s *Service) RunRewrite(ctx context.Context, id uint) (*database.CVRewrite, error) {
	var row database.CVRewrite
	if err := s.loadForProcessing(ctx, &row, id); err != nil {
		return nil, err
	}
	if row.Status == database.StatusCompleted {
		return &row, nil
	}

	ctx = llm.WithUser(ctx, row.UserID)
	result := s.llm.RewriteCV(ctx, row.OriginalText, row.Style, row.TargetJobTitle, row.JobDescription)

	// 已有分析时保留分析得出的 ATS 分。
	before := result.ATSScoreBefore
	if row.ATSScoreBefore != nil {
		before = *row.ATSScoreBefore
	}
	updates := map[string]any{
		"status":             database.StatusCompleted,
		"rewritten_text":     result.RewrittenText,
		"rewritten_markdown": result.RewrittenMarkdown,
		"improvements":       datatypes.NewJSONSlice(result.Improvements),
		"keywords_added":     datatypes.NewJSONSlice(result.KeywordsAdded),
		"ats_score_before":   before,
		"ats_score_after":    result.ATSScoreAfter,
		"error_message":      "",
		"completed_at":       s.now(),
	}
	if err := s.db.WithContext(ctx).Model(&row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("store cv rewrite: %w", err)
	}
	return reloadInto(ctx, s.db, &row, id)
}

// RunCoverLetter generates the letter for a pending cover letter.
func (s *Service) RunCoverLetter(ctx context.Context, id uint) (*database.CoverLetter, error) {
	var row database.CoverLetter
	if err := s.loadForProcessing(ctx, &row, id); err != nil {
		return nil, err
	}
	if row.Status == database.StatusCompleted {
		return &row, nil
	}

	ctx = llm.WithUser(ctx, row.UserID)
	result := s.llm.GenerateCoverLetter(ctx, llm.CoverLetterInput{
		CVText:         row.CVText,
		JobTitle:       row.JobTitle,
		CompanyName:    row.CompanyName,
		JobDescription: row.JobDescription,
		Tone:           row.Tone,
		AdditionalInfo: row.AdditionalInfo,
	})
	updates := map[string]any{
		"status":          database.StatusCompleted,
		"letter_text":     result.Text,
		"letter_markdown": result.Markdown,
		"matching_skills": datatypes.NewJSONSlice(result.MatchingSkills),
		"key_highlights":  datatypes.NewJSONSlice(result.KeyHighlights),
		"error_message":   "",
		"completed_at":    s.now(),
	}
	if err := s.db.WithContext(ctx).Model(&row).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("store cover letter: %w", err)
	}
	return reloadInto(ctx, s.db, &row, id)
}

// loadForProcessing 加载记录并置为 processing；记录不存在返回 ErrNotFound。
func (s *Service) loadForProcessing(ctx context.Context, row any, id uint) error {
	db := s.db.WithContext(ctx)
	if err := db.First(row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load row %d: %w", id, err)
	}
	res := db.Model(row).Where("status <> ?", database.StatusCompleted).Update("status", database.StatusProcessing)
	if res.Error != nil {
		return fmt.Errorf("mark processing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// 已完成的记录重新读取一次，让调用方看到最终状态。
		return db.First(row, id).Error
	}
	return nil
}

func reloadInto[T any](ctx context.Context, db *gorm.DB, row *T, id uint) (*T, error) {
	if err := db.WithContext(ctx).First(row, id).Error; err != nil {
		return nil, fmt.Errorf("reload row %d: %w", id, err)
	}
	return row, nil
}

// MarkFailed sets status failed with a message on a CVAnalysis, CVRewrite or CoverLetter.
func (s *Service) MarkFailed(ctx context.Context, model any, id uint, msg string) error {
	return s.db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(map[string]any{
		"status":        database.StatusFailed,
		"error_message": msg,
	}).Error
}
