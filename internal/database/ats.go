package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 职位状态。
const (
	JobOpen   = "OPEN"
	JobClosed = "CLOSED"
	JobDraft  = "DRAFT"
)

// 申请状态。
const (
	ApplicationApplied   = "APPLIED"
	ApplicationScreening = "SCREENING"
	ApplicationInterview = "INTERVIEW"
	ApplicationOffer     = "OFFER"
	ApplicationHired     = "HIRED"
	ApplicationRejected  = "REJECTED"
)

var ApplicationStatuses = []string{
	ApplicationApplied,
	ApplicationScreening,
	ApplicationInterview,
	ApplicationOffer,
	ApplicationHired,
	ApplicationRejected,
}

// 雇佣类型，未知值存为空。
var EmploymentTypes = []string{"FULL_TIME", "PART_TIME", "CONTRACT", "INTERNSHIP", "TEMPORARY"}

const (
	InterviewTypeHuman = "HUMAN"
	InterviewTypeAI    = "AI"
)

const (
	InterviewScheduled = "SCHEDULED"
	InterviewCompleted = "COMPLETED"
	InterviewCanceled  = "CANCELED"
)

// Company 招聘方公司，按名称去重。
type Company struct {
	gorm.Model
	Name    string `gorm:"uniqueIndex;size:255"`
	Website string `gorm:"size:255"`
	Jobs    []Job  `gorm:"constraint:OnDelete:CASCADE"`
}

// RecruiterProfile ties a recruiter account to a company.
type RecruiterProfile struct {
	gorm.Model
	UserID    uint   `gorm:"uniqueIndex"`
	CompanyID uint   `gorm:"index"`
	Title     string `gorm:"size:128"`
}

// Job 职位。
type Job struct {
	gorm.Model
	CompanyID       uint    `gorm:"index"`
	Company         Company `gorm:"constraint:OnDelete:CASCADE"`
	CreatedByUserID uint    `gorm:"index"`
	Title           string  `gorm:"size:255;index"`
	Description     string  `gorm:"type:text"`
	Location        string  `gorm:"size:255"`
	EmploymentType  string  `gorm:"size:32"`
	MinSalary       *int
	MaxSalary       *int
	Currency        string     `gorm:"size:3;default:USD"`
	RequirementsRaw string     `gorm:"type:text"`
	Status          string     `gorm:"size:16;index"`
	IsActive        bool       `gorm:"default:true;index"`
	Skills          []JobSkill `gorm:"constraint:OnDelete:CASCADE"`
}

// JobSkill is one required or nice-to-have skill of a job.
type JobSkill struct {
	gorm.Model
	JobID    uint   `gorm:"index"`
	Name     string `gorm:"size:128"`
	Required bool
}

// Candidate 候选人，按邮箱去重，可与平台账号关联。
type Candidate struct {
	gorm.Model
	Email       string `gorm:"uniqueIndex;size:255"`
	FullName    string `gorm:"size:255"`
	Phone       string `gorm:"size:64"`
	LinkedInURL string `gorm:"size:512"`
	Location    string `gorm:"size:255"`
	UserID      *uint  `gorm:"index"`
}

// Application 候选人对职位的一次申请。
type Application struct {
	gorm.Model
	JobID          uint      `gorm:"index;uniqueIndex:idx_job_candidate,priority:1"`
	Job            Job       `gorm:"constraint:OnDelete:CASCADE"`
	CandidateID    uint      `gorm:"index;uniqueIndex:idx_job_candidate,priority:2"`
	Candidate      Candidate `gorm:"constraint:OnDelete:CASCADE"`
	Status         string    `gorm:"size:16;index"`
	CoverLetter    string    `gorm:"type:text"`
	ResumeKey      string    `gorm:"size:512"`
	ResumeFilename string    `gorm:"size:255"`
	FitScore       *float64
	Source         string `gorm:"size:64"`
}

// Screening 初筛记录；ScreenedByID 为空表示投递时的自动评分。
type Screening struct {
	gorm.Model
	ApplicationID  uint  `gorm:"index"`
	ScreenedByID   *uint `gorm:"index"`
	Score          *float64
	SkillsMatched  datatypes.JSONSlice[string]
	SkillsMissing  datatypes.JSONSlice[string]
	Notes          string `gorm:"type:text"`
	Recommendation string `gorm:"size:32"`
}

// Interview is a scheduled human or AI interview for an application.
type Interview struct {
	gorm.Model
	ApplicationID      uint        `gorm:"index"`
	Application        Application `gorm:"constraint:OnDelete:CASCADE"`
	Type               string      `gorm:"size:8"`
	Status             string      `gorm:"size:16;index"`
	ScheduledStart     *time.Time
	ScheduledEnd       *time.Time
	MeetingURL         string              `gorm:"size:512"`
	CreatedByUserID    uint                `gorm:"index"`
	InterviewerUserID  *uint               `gorm:"index"`
	InterviewSessionID *string             `gorm:"size:36;index"`
	Metrics            []InterviewMetric   `gorm:"constraint:OnDelete:CASCADE"`
	Feedback           []InterviewFeedback `gorm:"constraint:OnDelete:CASCADE"`
}

// InterviewMetric 面试中的一个评分维度。
type InterviewMetric struct {
	gorm.Model
	InterviewID uint    `gorm:"index"`
	Name        string  `gorm:"size:128"`
	Score       float64 `gorm:"default:0"`
	Weight      float64 `gorm:"default:1"`
}

// InterviewFeedback is a reviewer's verdict on an interview.
type InterviewFeedback struct {
	gorm.Model
	InterviewID    uint   `gorm:"index"`
	AuthorUserID   uint   `gorm:"index"`
	Rating         int    `gorm:"default:0"`
	Recommendation string `gorm:"size:32"`
	Comments       string `gorm:"type:text"`
}
