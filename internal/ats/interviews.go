package ats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/interview"
	mailer "interviewly/internal/mail"
)

// InterviewInput schedules an interview. NumQuestions and Seniority only
// apply to AI interviews.
type InterviewInput struct {
	Type           string
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	MeetingURL     string
	InterviewerID  *uint
	Seniority      string
	NumQuestions   int
}

// ScheduleInterview creates a HUMAN or AI interview for an application. AI
// interviews get a linked voice interview session owned by the candidate's
// account when there is one.
func (s *Service) ScheduleInterview(ctx context.Context, recruiterID, appID uint, in InterviewInput) (*database.Interview, error) {
	kind := strings.ToUpper(strings.TrimSpace(in.Type))
	if kind != database.InterviewTypeHuman && kind != database.InterviewTypeAI {
		return nil, ErrInvalidInterviewType
	}
	if in.ScheduledStart != nil && in.ScheduledEnd != nil && in.ScheduledEnd.Before(*in.ScheduledStart) {
		return nil, fmt.Errorf("%w: scheduled_end is before scheduled_start", ErrInvalidInput)
	}
	app, err := s.ownedApplication(ctx, recruiterID, appID)
	if err != nil {
		return nil, err
	}

	iv := database.Interview{
		ApplicationID:     app.ID,
		Type:              kind,
		Status:            database.InterviewScheduled,
		ScheduledStart:    utcPtr(in.ScheduledStart),
		ScheduledEnd:      utcPtr(in.ScheduledEnd),
		MeetingURL:        strings.TrimSpace(in.MeetingURL),
		CreatedByUserID:   recruiterID,
		InterviewerUserID: in.InterviewerID,
	}
	if kind == database.InterviewTypeAI {
		if s.sessions == nil {
			return nil, ErrAIUnavailable
		}
		seniority := in.Seniority
		if seniority == "" {
			seniority = "mid"
		}
		session, err := s.sessions.CreateSession(ctx, app.Candidate.UserID, interview.StartInput{
			JobTitle:     app.Job.Title,
			Seniority:    seniority,
			NumQuestions: in.NumQuestions,
			Mode:         database.ModeVoice,
		})
		if err != nil {
			return nil, fmt.Errorf("create ai interview session: %w", err)
		}
		iv.InterviewSessionID = &session.ID
		if iv.MeetingURL == "" && s.publicBaseURL != "" {
			iv.MeetingURL = fmt.Sprintf("%s/interview/voice/%s", s.publicBaseURL, session.ID)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Application").Create(&iv).Error; err != nil {
			return err
		}
		return tx.Model(&database.Application{}).
			Where("id = ? AND status IN ?", app.ID, []string{database.ApplicationApplied, database.ApplicationScreening}).
			Update("status", database.ApplicationInterview).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create interview: %w", err)
	}

	s.notifyCandidate(ctx, app, &iv)
	return &iv, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Service) notifyCandidate(ctx context.Context, app *database.Application, iv *database.Interview) {
	msg, err := mailer.InterviewScheduled{
		CandidateEmail: app.Candidate.Email,
		CandidateName:  app.Candidate.FullName,
		JobTitle:       app.Job.Title,
		CompanyName:    app.Job.Company.Name,
		StartsAt:       iv.ScheduledStart,
		MeetingURL:     iv.MeetingURL,
		AIInterview:    iv.Type == database.InterviewTypeAI,
	}.Message()
	if err != nil {
		s.logger.Error("render interview email failed", slog.Any("error", err))
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("send interview email failed", slog.Uint64("interview_id", uint64(iv.ID)), slog.Any("error", err))
	}
}

// ListInterviews returns the interviews of an application with their metrics and feedback.
func (s *Service) ListInterviews(ctx context.Context, recruiterID, appID uint) ([]database.Interview, error) {
	if _, err := s.ownedApplication(ctx, recruiterID, appID); err != nil {
		return nil, err
	}
	var out []database.Interview
	err := s.db.WithContext(ctx).Preload("Metrics").Preload("Feedback").
		Where("application_id = ?", appID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	return out, nil
}

// MetricInput 一个评分维度，Weight 缺省为 1。
type MetricInput struct {
	Name   string
	Score  float64
	Weight float64
}

// FeedbackInput is a reviewer's verdict plus optional scored metrics.
type FeedbackInput struct {
	Rating         int
	Recommendation string
	Comments       string
	Metrics        []MetricInput
}

// 推荐结论。
var recommendations = []string{"STRONG_HIRE", "HIRE", "NO_HIRE", "STRONG_NO_HIRE"}

// AddFeedback stores feedback and metrics on an interview and marks it completed.
func (s *Service) AddFeedback(ctx context.Context, recruiterID, interviewID uint, in FeedbackInput) (*database.Interview, error) {
	if in.Rating < 1 || in.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	rec := strings.ToUpper(strings.TrimSpace(in.Recommendation))
	if rec != "" && !slices.Contains(recommendations, rec) {
		return nil, fmt.Errorf("%w: recommendation must be one of %s", ErrInvalidInput, strings.Join(recommendations, ", "))
	}
	metrics := make([]database.InterviewMetric, 0, len(in.Metrics))
	for _, m := range in.Metrics {
		name := strings.TrimSpace(m.Name)
		if name == "" || m.Score < 0 || m.Score > 100 || m.Weight < 0 {
			return nil, fmt.Errorf("%w: metrics need a name, a score in 0..100 and a non-negative weight", ErrInvalidInput)
		}
		w := m.Weight
		if w == 0 {
			w = 1
		}
		metrics = append(metrics, database.InterviewMetric{Name: name, Score: m.Score, Weight: w})
	}

	var iv database.Interview
	if err := s.db.WithContext(ctx).Preload("Application.Job").First(&iv, interviewID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInterviewNotFound
		}
		return nil, fmt.Errorf("load interview: %w", err)
	}
	if iv.Application.Job.CreatedByUserID != recruiterID {
		return nil, ErrForbidden
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fb := database.InterviewFeedback{
			InterviewID:    iv.ID,
			AuthorUserID:   recruiterID,
			Rating:         in.Rating,
			Recommendation: rec,
			Comments:       strings.TrimSpace(in.Comments),
		}
		if err := tx.Create(&fb).Error; err != nil {
			return err
		}
		for i := range metrics {
			metrics[i].InterviewID = iv.ID
		}
		if len(metrics) > 0 {
			if err := tx.Create(&metrics).Error; err != nil {
				return err
			}
		}
		return tx.Model(&database.Interview{}).Where("id = ?", iv.ID).Update("status", database.InterviewCompleted).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store feedback: %w", err)
	}

	var out database.Interview
	if err := s.db.WithContext(ctx).Preload("Metrics").Preload("Feedback").First(&out, iv.ID).Error; err != nil {
		return nil, fmt.Errorf("reload interview: %w", err)
	}
	return &out, nil
}

// WeightedScore is the weight-averaged metric score, 0 when there are no metrics.
func WeightedScore(metrics []database.InterviewMetric) float64 {
	var sum, weights float64
	for _, m := range metrics {
		sum += m.Score * m.Weight
		weights += m.Weight
	}
	if weights == 0 {
		return 0
	}
	return float64(int(sum/weights*100+0.5)) / 100
}
