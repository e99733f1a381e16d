package ats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm"

	"interviewly/internal/database"
)

// ListApplications returns the applications of one of the recruiter's jobs,
// best fit first.
func (s *Service) ListApplications(ctx context.Context, recruiterID, jobID uint) ([]database.Application, error) {
	if _, err := s.ownedJob(ctx, recruiterID, jobID); err != nil {
		return nil, err
	}
	var apps []database.Application
	err := s.db.WithContext(ctx).Preload("Candidate").
		Where("job_id = ?", jobID).
		Order("fit_score DESC").Order("id ASC").
		Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return apps, nil
}

// ownedApplication 加载申请并校验其职位属于该招聘者：不存在返回 ErrApplicationNotFound，越权返回 ErrForbidden。
func (s *Service) ownedApplication(ctx context.Context, recruiterID, appID uint) (*database.Application, error) {
	var app database.Application
	if err := s.db.WithContext(ctx).Preload("Job").Preload("Job.Company").Preload("Candidate").First(&app, appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("load application: %w", err)
	}
	if app.Job.CreatedByUserID != recruiterID {
		return nil, ErrForbidden
	}
	return &app, nil
}

// UpdateApplicationStatus moves an application to another pipeline status.
func (s *Service) UpdateApplicationStatus(ctx context.Context, recruiterID, appID uint, status string) (*database.Application, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !slices.Contains(database.ApplicationStatuses, status) {
		return nil, fmt.Errorf("%w: status must be one of %s", ErrInvalidInput, strings.Join(database.ApplicationStatuses, ", "))
	}
	app, err := s.ownedApplication(ctx, recruiterID, appID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(app).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("update application status: %w", err)
	}
	return app, nil
}

// ApplicationCVURL returns a short-lived download link for the applicant's resume.
func (s *Service) ApplicationCVURL(ctx context.Context, recruiterID, appID uint) (string, error) {
	app, err := s.ownedApplication(ctx, recruiterID, appID)
	if err != nil {
		return "", err
	}
	if app.ResumeKey == "" {
		return "", ErrNoResume
	}
	if s.store == nil {
		return "", errors.New("ats: file storage is not configured")
	}
	return s.store.PresignGet(ctx, app.ResumeKey, cvURLTTL, app.ResumeFilename)
}

// ScreeningInput is a recruiter's manual screening.
type ScreeningInput struct {
	Score          *float64
	Notes          string
	Recommendation string
}

// AddScreening stores a manual screening. An application still in APPLIED
// moves to SCREENING.
func (s *Service) AddScreening(ctx context.Context, recruiterID, appID uint, in ScreeningInput) (*database.Screening, error) {
	if in.Score != nil && (*in.Score < 0 || *in.Score > 100) {
		return nil, fmt.Errorf("%w: score must be between 0 and 100", ErrInvalidInput)
	}
	app, err := s.ownedApplication(ctx, recruiterID, appID)
	if err != nil {
		return nil, err
	}
	screening := database.Screening{
		ApplicationID:  app.ID,
		ScreenedByID:   &recruiterID,
		Score:          in.Score,
		Notes:          strings.TrimSpace(in.Notes),
		Recommendation: strings.ToUpper(strings.TrimSpace(in.Recommendation)),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&screening).Error; err != nil {
			return err
		}
		return tx.Model(&database.Application{}).
			Where("id = ? AND status = ?", app.ID, database.ApplicationApplied).
			Update("status", database.ApplicationScreening).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create screening: %w", err)
	}
	return &screening, nil
}

// ListScreenings returns the screenings of an application, oldest first.
func (s *Service) ListScreenings(ctx context.Context, recruiterID, appID uint) ([]database.Screening, error) {
	if _, err := s.ownedApplication(ctx, recruiterID, appID); err != nil {
		return nil, err
	}
	var out []database.Screening
	if err := s.db.WithContext(ctx).Where("application_id = ?", appID).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list screenings: %w", err)
	}
	return out, nil
}
