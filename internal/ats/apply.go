package ats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"interviewly/internal/cv"
	"interviewly/internal/database"
	mailer "interviewly/internal/mail"
	"interviewly/internal/storage"
	"interviewly/internal/upload"
)

// ApplyInput is a public application. Resume is optional.
type ApplyInput struct {
	FullName    string
	Email       string
	Phone       string
	LinkedInURL string
	Location    string
	CoverLetter string
	Resume      *upload.File
	// UserID 投递者登录时关联平台账号。
	UserID *uint
}

func (in *ApplyInput) normalize() error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.FullName == "" || in.Email == "" {
		return fmt.Errorf("%w: full_name and email are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	in.Phone = strings.TrimSpace(in.Phone)
	in.LinkedInURL = strings.TrimSpace(in.LinkedInURL)
	in.Location = strings.TrimSpace(in.Location)
	return nil
}

// Apply records an application to an open job: the candidate is upserted by
// email, the resume goes to object storage, and an automatic screening with
// the fit score is stored. The recruiter is notified by email.
func (s *Service) Apply(ctx context.Context, jobID uint, in ApplyInput) (*database.Application, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	job, err := s.PublicJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var resumeKey, resumeText string
	if in.Resume != nil {
		if s.store == nil {
			return nil, errors.New("ats: file storage is not configured")
		}
		if err := s.scanner.Scan(ctx, in.Resume.Data); err != nil {
			return nil, err
		}
		resumeKey = storage.ApplicationResumeKey(job.ID, in.Resume.Ext)
		if err := s.store.Put(ctx, resumeKey, in.Resume.Data, in.Resume.ContentType); err != nil {
			return nil, fmt.Errorf("upload resume: %w", err)
		}
		// 提取失败不影响投递，只是无法做向量匹配。
		if text, err := cv.ExtractText(in.Resume.Ext, in.Resume.Data); err == nil {
			resumeText = text
		} else {
			s.logger.Info("resume text extraction failed", slog.Uint64("job_id", uint64(job.ID)), slog.Any("error", err))
		}
	}

	fit, scored := 0.0, false
	if s.matcher != nil && resumeText != "" {
		fit, scored = s.matcher.FitScore(ctx, job, resumeText)
	}
	if !scored {
		fit = s.randomFitScore()
	}
	matched, missing := MatchSkills(job.Skills, resumeText)

	var app database.Application
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate, err := upsertCandidate(tx, in)
		if err != nil {
			return err
		}
		var existing int64
		if err := tx.Model(&database.Application{}).Where("job_id = ? AND candidate_id = ?", job.ID, candidate.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyApplied
		}
		app = database.Application{
			JobID:       job.ID,
			CandidateID: candidate.ID,
			Candidate:   *candidate,
			Status:      database.ApplicationApplied,
			CoverLetter: strings.TrimSpace(in.CoverLetter),
			ResumeKey:   resumeKey,
			FitScore:    &fit,
			Source:      "portal",
		}
		if in.Resume != nil {
			app.ResumeFilename = in.Resume.Name
		}
		if err := tx.Omit("Job", "Candidate").Create(&app).Error; err != nil {
			return err
		}
		return tx.Create(&database.Screening{
			ApplicationID: app.ID,
			Score:         &fit,
			SkillsMatched: matched,
			SkillsMissing: missing,
		}).Error
	})
	if err != nil {
		if resumeKey != "" {
			if delErr := s.store.Delete(ctx, resumeKey); delErr != nil {
				s.logger.Warn("cleanup resume failed", slog.String("key", resumeKey), slog.Any("error", delErr))
			}
		}
		if errors.Is(err, ErrAlreadyApplied) {
			return nil, err
		}
		return nil, fmt.Errorf("create application: %w", err)
	}

	s.notifyRecruiter(ctx, job, &app)
	return &app, nil
}

// upsertCandidate 按邮箱查找候选人；已存在时只补全空字段。
func upsertCandidate(tx *gorm.DB, in ApplyInput) (*database.Candidate, error) {
	var c database.Candidate
	err := tx.Where("email = ?", in.Email).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c = database.Candidate{
			Email:       in.Email,
			FullName:    in.FullName,
			Phone:       in.Phone,
			LinkedInURL: in.LinkedInURL,
			Location:    in.Location,
			UserID:      in.UserID,
		}
		if err := tx.Create(&c).Error; err != nil {
			return nil, fmt.Errorf("create candidate: %w", err)
		}
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}

	updates := map[string]any{}
	if c.Phone == "" && in.Phone != "" {
		updates["phone"] = in.Phone
	}
	if c.LinkedInURL == "" && in.LinkedInURL != "" {
		updates["linked_in_url"] = in.LinkedInURL
	}
	if c.Location == "" && in.Location != "" {
		updates["location"] = in.Location
	}
	if c.UserID == nil && in.UserID != nil {
		updates["user_id"] = *in.UserID
	}
	if len(updates) > 0 {
		if err := tx.Model(&c).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update candidate: %w", err)
		}
	}
	return &c, nil
}

func (s *Service) notifyRecruiter(ctx context.Context, job *database.Job, app *database.Application) {
	log := s.logger.With(slog.Uint64("job_id", uint64(job.ID)), slog.Uint64("application_id", uint64(app.ID)))
	var recruiter database.User
	if err := s.db.WithContext(ctx).First(&recruiter, job.CreatedByUserID).Error; err != nil {
		log.Warn("load recruiter for notification failed", slog.Any("error", err))
		return
	}
	data := mailer.ApplicationReceived{
		RecruiterEmail: recruiter.Email,
		RecruiterName:  recruiter.FullName,
		CandidateName:  app.Candidate.FullName,
		CandidateEmail: app.Candidate.Email,
		JobTitle:       job.Title,
		ReviewURL:      s.publicBaseURL + fmt.Sprintf("/ats/jobs/%d/applications", job.ID),
	}
	if app.FitScore != nil {
		data.FitScore = *app.FitScore
	}
	msg, err := data.Message()
	if err != nil {
		log.Error("render application email failed", slog.Any("error", err))
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		log.Warn("send application email failed", slog.Any("error", err))
	}
}
