package ats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gorm.io/gorm"

	"interviewly/internal/database"
	"interviewly/internal/llm"
)

// JobInput is the payload for creating a job posting.
type JobInput struct {
	Title          string
	CompanyName    string
	CompanyWebsite string
	Description    string
	Location       string
	EmploymentType string
	Requirements   string
	MinSalary      *int
	MaxSalary      *int
	Currency       string
	Status         string
	Skills         []SkillInput
}

type SkillInput struct {
	Name     string
	Required bool
}

// JobSummary 职位及其申请数。
type JobSummary struct {
	Job               database.Job
	ApplicationsCount int64
}

func (in *JobInput) normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" || in.Description == "" {
		return fmt.Errorf("%w: title and description are required", ErrInvalidInput)
	}
	if in.MinSalary != nil && in.MaxSalary != nil && *in.MinSalary > *in.MaxSalary {
		return fmt.Errorf("%w: min_salary is greater than max_salary", ErrInvalidInput)
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "USD"
	}
	if len(in.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidInput)
	}
	// 未知的雇佣类型直接忽略。
	in.EmploymentType = strings.ToUpper(strings.TrimSpace(in.EmploymentType))
	if !slices.Contains(database.EmploymentTypes, in.EmploymentType) {
		in.EmploymentType = ""
	}
	switch strings.ToUpper(in.Status) {
	case "":
		in.Status = database.JobOpen
	case database.JobOpen, database.JobDraft, database.JobClosed:
		in.Status = strings.ToUpper(in.Status)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	return nil
}

// CreateJob stores a posting for the recruiter, creating the company and the
// recruiter profile on first use. New jobs are OPEN and active unless a status is given.
func (s *Service) CreateJob(ctx context.Context, recruiterID uint, in JobInput) (*database.Job, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var job database.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recruiter database.User
		if err := tx.First(&recruiter, recruiterID).Error; err != nil {
			return fmt.Errorf("load recruiter: %w", err)
		}
		name := strings.TrimSpace(in.CompanyName)
		if name == "" {
			owner := recruiter.FullName
			if owner == "" {
				owner = recruiter.Email
			}
			name = owner + "'s Company"
		}
		company, err := companyFor(tx, recruiterID, name, in.CompanyWebsite)
		if err != nil {
			return err
		}

		job = database.Job{
			CompanyID:       company.ID,
			Company:         *company,
			CreatedByUserID: recruiterID,
			Title:           in.Title,
			Description:     in.Description,
			Location:        strings.TrimSpace(in.Location),
			EmploymentType:  in.EmploymentType,
			MinSalary:       in.MinSalary,
			MaxSalary:       in.MaxSalary,
			Currency:        in.Currency,
			RequirementsRaw: strings.TrimSpace(in.Requirements),
			Status:          in.Status,
			IsActive:        true,
		}
		for _, sk := range in.Skills {
			if n := strings.TrimSpace(sk.Name); n != "" {
				job.Skills = append(job.Skills, database.JobSkill{Name: n, Required: sk.Required})
			}
		}
		return tx.Omit("Company").Create(&job).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return &job, nil
}

// companyFor 按名称获取或创建公司，并确保招聘者档案存在。
func companyFor(tx *gorm.DB, recruiterID uint, name, website string) (*database.Company, error) {
	var company database.Company
	if err := tx.Where(database.Company{Name: name}).Attrs(database.Company{Website: website}).FirstOrCreate(&company).Error; err != nil {
		return nil, fmt.Errorf("get or create company: %w", err)
	}
	var profile database.RecruiterProfile
	err := tx.Where("user_id = ?", recruiterID).First(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = database.RecruiterProfile{UserID: recruiterID, CompanyID: company.ID}
		if err := tx.Create(&profile).Error; err != nil {
			return nil, fmt.Errorf("create recruiter profile: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load recruiter profile: %w", err)
	case profile.CompanyID == 0:
		if err := tx.Model(&profile).Update("company_id", company.ID).Error; err != nil {
			return nil, fmt.Errorf("update recruiter profile: %w", err)
		}
	}
	return &company, nil
}

// 列表筛选。
const (
	FilterAll      = "all"
	FilterActive   = "active"
	FilterInactive = "inactive"
)

// JobFilter narrows ListJobs. Search matches title or company name.
type JobFilter struct {
	Search       string
	FilterStatus string
}

// ListJobs returns the recruiter's jobs, newest first, with application counts.
func (s *Service) ListJobs(ctx context.Context, recruiterID uint, f JobFilter) ([]JobSummary, error) {
	q := s.db.WithContext(ctx).Model(&database.Job{}).
		Joins("LEFT JOIN companies ON companies.id = jobs.company_id").
		Where("jobs.created_by_user_id = ?", recruiterID)
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		like := "%" + term + "%"
		q = q.Where("LOWER(jobs.title) LIKE ? OR LOWER(companies.name) LIKE ?", like, like)
	}
	switch strings.ToLower(f.FilterStatus) {
	case "", FilterAll:
	case FilterActive:
		q = q.Where("jobs.is_active = ?", true)
	case FilterInactive:
		q = q.Where("jobs.is_active = ?", false)
	default:
		return nil, fmt.Errorf("%w: filter_status must be all, active or inactive", ErrInvalidInput)
	}

	var jobs []database.Job
	if err := q.Preload("Company").Preload("Skills").Order("jobs.created_at DESC").Order("jobs.id DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	counts, err := s.applicationCounts(ctx, jobs)
	if err != nil {
		return nil, err
	}
	out := make([]JobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = JobSummary{Job: j, ApplicationsCount: counts[j.ID]}
	}
	return out, nil
}

func (s *Service) applicationCounts(ctx context.Context, jobs []database.Job) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(jobs))
	if len(jobs) == 0 {
		return counts, nil
	}
	ids := make([]uint, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	var rows []struct {
		JobID uint
		Total int64
	}
	err := s.db.WithContext(ctx).Model(&database.Application{}).
		Select("job_id, COUNT(*) AS total").
		Where("job_id IN ?", ids).
		Group("job_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count applications: %w", err)
	}
	for _, r := range rows {
		counts[r.JobID] = r.Total
	}
	return counts, nil
}

// GetJob returns one of the recruiter's jobs.
func (s *Service) GetJob(ctx context.Context, recruiterID, jobID uint) (*JobSummary, error) {
	job, err := s.ownedJob(ctx, recruiterID, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := s.applicationCounts(ctx, []database.Job{*job})
	if err != nil {
		return nil, err
	}
	return &JobSummary{Job: *job, ApplicationsCount: counts[job.ID]}, nil
}

// PublicJob returns a job that is OPEN and active, for the application page.
func (s *Service) PublicJob(ctx context.Context, jobID uint) (*database.Job, error) {
	var job database.Job
	err := s.db.WithContext(ctx).Preload("Company").Preload("Skills").
		Where("id = ? AND status = ? AND is_active = ?", jobID, database.JobOpen, true).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotOpen
		}
		return nil, fmt.Errorf("load public job: %w", err)
	}
	return &job, nil
}

// ToggleActive flips is_active on one of the recruiter's jobs.
func (s *Service) ToggleActive(ctx context.Context, recruiterID, jobID uint) (*JobSummary, error) {
	job, err := s.ownedJob(ctx, recruiterID, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(job).Update("is_active", !job.IsActive).Error; err != nil {
		return nil, fmt.Errorf("toggle job: %w", err)
	}
	return s.GetJob(ctx, recruiterID, jobID)
}

// SocialPost drafts a shareable post for one of the recruiter's jobs.
func (s *Service) SocialPost(ctx context.Context, recruiterID, jobID uint) (llm.SocialPost, error) {
	job, err := s.ownedJob(ctx, recruiterID, jobID)
	if err != nil {
		return llm.SocialPost{}, err
	}
	return s.llm.GenerateSocialPost(llm.WithUser(ctx, recruiterID), llm.JobPosting{
		Title:          job.Title,
		CompanyName:    job.Company.Name,
		Location:       job.Location,
		EmploymentType: job.EmploymentType,
		Description:    job.Description,
		MinSalary:      job.MinSalary,
		MaxSalary:      job.MaxSalary,
		Currency:       job.Currency,
		URL:            s.jobURL(job.ID),
	}), nil
}

func (s *Service) jobURL(jobID uint) string {
	if s.publicBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/jobs/%d", s.publicBaseURL, jobID)
}

func (s *Service) ownedJob(ctx context.Context, recruiterID, jobID uint) (*database.Job, error) {
	var job database.Job
	err := s.db.WithContext(ctx).Preload("Company").Preload("Skills").
		Where("id = ? AND created_by_user_id = ?", jobID, recruiterID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	return &job, nil
}
