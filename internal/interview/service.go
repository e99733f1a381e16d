// Package interview runs mock interviews: structured question plans scored
// answer by answer, free-form conversations, and voice sessions whose
// transcript is pushed by the voice sidecar.
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/llm"
)

const (
	DefaultNumQuestions = 5
	MaxNumQuestions     = 20
)

// Service 结构化面试的会话、题目与回答。
type Service struct {
	db     *gorm.DB
	llm    *llm.Service
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, llmService *llm.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, llm: llmService, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// StartInput describes a new interview.
type StartInput struct {
	JobTitle     string
	Seniority    string
	Language     string
	NumQuestions int
	Mode         string
}

func (in *StartInput) normalize() error {
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	in.Seniority = strings.ToLower(strings.TrimSpace(in.Seniority))
	if in.JobTitle == "" || in.Seniority == "" {
		return fmt.Errorf("%w: job_title and seniority are required", ErrInvalidInput)
	}
	if in.Language == "" {
		in.Language = "en"
	}
	if in.NumQuestions == 0 {
		in.NumQuestions = DefaultNumQuestions
	}
	if in.NumQuestions < 1 || in.NumQuestions > MaxNumQuestions {
		return fmt.Errorf("%w: num_questions must be between 1 and %d", ErrInvalidInput, MaxNumQuestions)
	}
	switch in.Mode {
	case "":
		in.Mode = database.ModeStructured
	case database.ModeStructured, database.ModeConversational, database.ModeVoice:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, in.Mode)
	}
	return nil
}

// CreateSession stores an active session without questions. Conversational and
// voice interviews and recruiter-scheduled AI interviews start here.
func (s *Service) CreateSession(ctx context.Context, userID *uint, in StartInput) (*database.InterviewSession, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	session := newSession(userID, in)
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create interview session: %w", err)
	}
	return session, nil
}

func newSession(userID *uint, in StartInput) *database.InterviewSession {
	return &database.InterviewSession{
		UserID:       userID,
		JobTitle:     in.JobTitle,
		Seniority:    in.Seniority,
		Language:     in.Language,
		NumQuestions: in.NumQuestions,
		Mode:         in.Mode,
		Status:       database.SessionActive,
	}
}

// Start creates a structured session and its question plan. The returned
// session has Questions ordered by Idx.
func (s *Service) Start(ctx context.Context, userID uint, in StartInput) (*database.InterviewSession, error) {
	in.Mode = database.ModeStructured
	if err := in.normalize(); err != nil {
		return nil, err
	}
	ctx = llm.WithUser(ctx, userID)
	plan := s.llm.GenerateInterviewPlan(ctx, in.JobTitle, in.Seniority, in.Language, in.NumQuestions)
	if len(plan) == 0 {
		return nil, ErrNoQuestions
	}

	session := newSession(&userID, in)
	for _, q := range plan {
		session.Questions = append(session.Questions, database.InterviewQuestion{
			Idx:          q.Idx,
			Type:         q.Type,
			Competency:   q.Competency,
			QuestionText: q.QuestionText,
		})
	}
	// 题目数量以实际生成的为准。
	session.NumQuestions = len(session.Questions)

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("create interview session: %w", err)
	}
	return session, nil
}

// AnswerResult is the evaluation of one answer plus what comes next.
type AnswerResult struct {
	Answer       database.InterviewAnswer
	Evaluation   llm.Evaluation
	IsLast       bool
	NextQuestion *database.InterviewQuestion
}

// Answer evaluates and stores the answer to one question of an active session.
func (s *Service) Answer(ctx context.Context, userID uint, sessionID string, questionID uint, text string) (*AnswerResult, error) {
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != database.SessionActive {
		return nil, ErrSessionNotActive
	}

	db := s.db.WithContext(ctx)
	var question database.InterviewQuestion
	if err := db.Where("id = ? AND session_id = ?", questionID, sessionID).First(&question).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	if answered, err := s.isAnswered(ctx, question.ID); err != nil {
		return nil, err
	} else if answered {
		return nil, ErrAlreadyAnswered
	}

	eval := s.llm.EvaluateAnswer(llm.WithUser(ctx, userID), question.QuestionText, question.Type, text, session.JobTitle, session.Seniority)
	answer := database.InterviewAnswer{
		QuestionID:     question.ID,
		UserAnswerText: text,
		ScoreOverall:   eval.ScoreOverall,
		Relevance:      eval.DimensionScores.Relevance,
		Clarity:        eval.DimensionScores.Clarity,
		Structure:      eval.DimensionScores.Structure,
		Impact:         eval.DimensionScores.Impact,
		CoachNotes:     eval.CoachNotes,
	}
	if err := db.Create(&answer).Error; err != nil {
		// 并发提交时唯一索引兜底。
		if answered, _ := s.isAnswered(ctx, question.ID); answered {
			return nil, ErrAlreadyAnswered
		}
		return nil, fmt.Errorf("store answer: %w", err)
	}

	result := &AnswerResult{Answer: answer, Evaluation: eval, IsLast: question.Idx >= session.NumQuestions}
	if !result.IsLast {
		var next database.InterviewQuestion
		err := db.Where("session_id = ? AND idx = ?", sessionID, question.Idx+1).First(&next).Error
		switch {
		case err == nil:
			result.NextQuestion = &next
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, fmt.Errorf("load next question: %w", err)
		}
	}
	return result, nil
}

func (s *Service) isAnswered(ctx context.Context, questionID uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.InterviewAnswer{}).Where("question_id = ?", questionID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check answer: %w", err)
	}
	return count > 0, nil
}

// Finish summarises a fully answered session. Finishing a completed session
// returns the stored summary.
func (s *Service) Finish(ctx context.Context, userID uint, sessionID string) (*database.InterviewSession, llm.SessionSummary, error) {
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, llm.SessionSummary{}, err
	}
	if session.Status == database.SessionCompleted {
		summary, err := decodeSummary(session.Summary)
		return session, summary, err
	}

	if err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Preload("Questions.Answer").
		First(session, "id = ?", sessionID).Error; err != nil {
		return nil, llm.SessionSummary{}, fmt.Errorf("load session questions: %w", err)
	}

	answered := make([]llm.AnsweredQuestion, 0, len(session.Questions))
	for _, q := range session.Questions {
		if q.Answer == nil {
			continue
		}
		answered = append(answered, llm.AnsweredQuestion{
			Type:         q.Type,
			QuestionText: q.QuestionText,
			UserAnswer:   q.Answer.UserAnswerText,
			Scores: llm.Evaluation{
				ScoreOverall: q.Answer.ScoreOverall,
				DimensionScores: llm.DimensionScores{
					Relevance: q.Answer.Relevance,
					Clarity:   q.Answer.Clarity,
					Structure: q.Answer.Structure,
					Impact:    q.Answer.Impact,
				},
				CoachNotes: q.Answer.CoachNotes,
			},
		})
	}
	if len(answered) < len(session.Questions) {
		return nil, llm.SessionSummary{}, &IncompleteError{Answered: len(answered), Total: len(session.Questions)}
	}

	summary := s.llm.SummarizeSession(llm.WithUser(ctx, userID), session.JobTitle, session.Seniority, answered)
	if err := s.complete(ctx, session, summary); err != nil {
		return nil, llm.SessionSummary{}, err
	}
	return session, summary, nil
}

// complete 写入总结并将会话置为 completed，同时累加用户的面试次数。
func (s *Service) complete(ctx context.Context, session *database.InterviewSession, summary llm.SessionSummary) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	now := s.now()
	score := summary.OverallScore
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.InterviewSession{}).
			Where("id = ? AND status <> ?", session.ID, database.SessionCompleted).
			Updates(map[string]any{
				"status":        database.SessionCompleted,
				"overall_score": score,
				"summary":       datatypes.JSON(raw),
				"completed_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || session.UserID == nil {
			return nil
		}
		return tx.Model(&database.User{}).Where("id = ?", *session.UserID).
			UpdateColumn("total_interviews", gorm.Expr("total_interviews + 1")).Error
	})
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	session.Status = database.SessionCompleted
	session.OverallScore = &score
	session.Summary = raw
	session.CompletedAt = &now
	return nil
}

func decodeSummary(raw datatypes.JSON) (llm.SessionSummary, error) {
	var summary llm.SessionSummary
	if len(raw) == 0 {
		return summary, nil
	}
	if err := json.Unmarshal(raw, &summary); err != nil {
		return summary, fmt.Errorf("decode summary: %w", err)
	}
	return summary, nil
}

// Get returns a session of the user with questions and answers.
func (s *Service) Get(ctx context.Context, userID uint, sessionID string) (*database.InterviewSession, error) {
	var session database.InterviewSession
	err := s.db.WithContext(ctx).
		Preload("Questions", func(db *gorm.DB) *gorm.DB { return db.Order("idx ASC") }).
		Preload("Questions.Answer").
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

// List 按创建时间倒序分页返回用户的面试历史。
func (s *Service) List(ctx context.Context, userID uint, limit, offset int) ([]database.InterviewSession, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	db := s.db.WithContext(ctx).Model(&database.InterviewSession{}).Where("user_id = ?", userID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	var sessions []database.InterviewSession
	if err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error; err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *Service) ownedSession(ctx context.Context, userID uint, sessionID string) (*database.InterviewSession, error) {
	var session database.InterviewSession
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

func (s *Service) sessionByID(ctx context.Context, sessionID string) (*database.InterviewSession, error) {
	var session database.InterviewSession
	if err := s.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

func (s *Service) markCompleted(ctx context.Context, sessionID string) error {
	now := s.now()
	err := s.db.WithContext(ctx).Model(&database.InterviewSession{}).
		Where("id = ? AND status <> ?", sessionID, database.SessionCompleted).
		Updates(map[string]any{"status": database.SessionCompleted, "completed_at": now}).Error
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}
