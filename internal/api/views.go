package api

import (
	"encoding/json"
	"time"

	"interviewly/internal/ats"
	"interviewly/internal/database"
)

// 数据库模型不带 json 标签，对外响应统一经过以下视图结构。

type userView struct {
	ID                uint       `json:"id"`
	Email             string     `json:"email"`
	FullName          string     `json:"full_name"`
	Role              string     `json:"role"`
	PreferredLanguage string     `json:"preferred_language"`
	IsActive          bool       `json:"is_active"`
	TotalInterviews   int        `json:"total_interviews"`
	TotalCVs          int        `json:"total_cvs"`
	LastLoginAt       *time.Time `json:"last_login_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newUserView(u *database.User) userView {
	return userView{
		ID:                u.ID,
		Email:             u.Email,
		FullName:          u.FullName,
		Role:              u.Role,
		PreferredLanguage: u.PreferredLanguage,
		IsActive:          u.IsActive,
		TotalInterviews:   u.TotalInterviews,
		TotalCVs:          u.TotalCVs,
		LastLoginAt:       u.LastLoginAt,
		CreatedAt:         u.CreatedAt,
	}
}

type questionView struct {
	ID           uint        `json:"id"`
	Idx          int         `json:"idx"`
	Type         string      `json:"type"`
	Competency   string      `json:"competency"`
	QuestionText string      `json:"question_text"`
	Answer       *answerView `json:"answer,omitempty"`
}

type dimensionScoresView struct {
	Relevance float64 `json:"relevance"`
	Clarity   float64 `json:"clarity"`
	Structure float64 `json:"structure"`
	Impact    float64 `json:"impact"`
}

type answerView struct {
	ID              uint                `json:"id"`
	UserAnswerText  string              `json:"user_answer_text"`
	ScoreOverall    float64             `json:"score_overall"`
	DimensionScores dimensionScoresView `json:"dimension_scores"`
	CoachNotes      string              `json:"coach_notes"`
	CreatedAt       time.Time           `json:"created_at"`
}

func newQuestionView(q *database.InterviewQuestion) *questionView {
	if q == nil {
		return nil
	}
	v := &questionView{
		ID:           q.ID,
		Idx:          q.Idx,
		Type:         q.Type,
		Competency:   q.Competency,
		QuestionText: q.QuestionText,
	}
	if a := q.Answer; a != nil {
		v.Answer = &answerView{
			ID:             a.ID,
			UserAnswerText: a.UserAnswerText,
			ScoreOverall:   a.ScoreOverall,
			DimensionScores: dimensionScoresView{
				Relevance: a.Relevance,
				Clarity:   a.Clarity,
				Structure: a.Structure,
				Impact:    a.Impact,
			},
			CoachNotes: a.CoachNotes,
			CreatedAt:  a.CreatedAt,
		}
	}
	return v
}

type sessionView struct {
	ID           string          `json:"id"`
	JobTitle     string          `json:"job_title"`
	Seniority    string          `json:"seniority"`
	Language     string          `json:"language"`
	NumQuestions int             `json:"num_questions"`
	Mode         string          `json:"mode"`
	Status       string          `json:"status"`
	OverallScore *float64        `json:"overall_score"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	Transcript   json.RawMessage `json:"transcript,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
	Questions    []*questionView `json:"questions,omitempty"`
}

func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func newSessionView(s *database.InterviewSession, detailed bool) sessionView {
	v := sessionView{
		ID:           s.ID,
		JobTitle:     s.JobTitle,
		Seniority:    s.Seniority,
		Language:     s.Language,
		NumQuestions: s.NumQuestions,
		Mode:         s.Mode,
		Status:       s.Status,
		OverallScore: s.OverallScore,
		CreatedAt:    s.CreatedAt,
		CompletedAt:  s.CompletedAt,
	}
	if !detailed {
		return v
	}
	v.Summary = rawJSON(s.Summary)
	v.Transcript = rawJSON(s.Transcript)
	v.Questions = make([]*questionView, 0, len(s.Questions))
	for i := range s.Questions {
		v.Questions = append(v.Questions, newQuestionView(&s.Questions[i]))
	}
	return v
}

type cvAnalysisView struct {
	ID              uint            `json:"id"`
	Filename        string          `json:"filename"`
	FileSize        int64           `json:"file_size"`
	ContentType     string          `json:"content_type"`
	TargetJobTitle  string          `json:"target_job_title"`
	TargetSeniority string          `json:"target_seniority"`
	Status          string          `json:"status"`
	OverallScore    *float64        `json:"overall_score"`
	ATSScore        *float64        `json:"ats_score"`
	ScoresBreakdown map[string]any  `json:"scores_breakdown,omitempty"`
	Strengths       []string        `json:"strengths,omitempty"`
	Weaknesses      []string        `json:"weaknesses,omitempty"`
	Suggestions     []string        `json:"suggestions,omitempty"`
	KeywordsFound   []string        `json:"keywords_found,omitempty"`
	KeywordsMissing []string        `json:"keywords_missing,omitempty"`
	ParsedData      json.RawMessage `json:"parsed_data,omitempty"`
	ExtractedText   string          `json:"extracted_text,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
}

func newCVAnalysisView(a *database.CVAnalysis, detailed bool) cvAnalysisView {
	v := cvAnalysisView{
		ID:              a.ID,
		Filename:        a.Filename,
		FileSize:        a.FileSize,
		ContentType:     a.ContentType,
		TargetJobTitle:  a.TargetJobTitle,
		TargetSeniority: a.TargetSeniority,
		Status:          a.Status,
		OverallScore:    a.OverallScore,
		ATSScore:        a.ATSScore,
		ErrorMessage:    a.ErrorMessage,
		CreatedAt:       a.CreatedAt,
		CompletedAt:     a.CompletedAt,
	}
	if !detailed {
		return v
	}
	v.ScoresBreakdown = a.ScoresBreakdown
	v.Strengths = a.Strengths
	v.Weaknesses = a.Weaknesses
	v.Suggestions = a.Suggestions
	v.KeywordsFound = a.KeywordsFound
	v.KeywordsMissing = a.KeywordsMissing
	v.ParsedData = rawJSON(a.ParsedData)
	v.ExtractedText = a.ExtractedText
	return v
}

type cvRewriteView struct {
	ID                  uint       `json:"id"`
	CVAnalysisID        *uint      `json:"cv_analysis_id"`
	Style               string     `json:"style"`
	TargetJobTitle      string     `json:"target_job_title"`
	Status              string     `json:"status"`
	OriginalCVText      string     `json:"original_cv_text"`
	RewrittenCVText     string     `json:"rewritten_cv_text"`
	RewrittenCVMarkdown string     `json:"rewritten_cv_markdown"`
	ImprovementsMade    []string   `json:"improvements_made"`
	KeywordsAdded       []string   `json:"keywords_added"`
	ATSScoreBefore      *float64   `json:"ats_score_before"`
	ATSScoreAfter       *float64   `json:"ats_score_after"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

func newCVRewriteView(r *database.CVRewrite) cvRewriteView {
	return cvRewriteView{
		ID:                  r.ID,
		CVAnalysisID:        r.CVAnalysisID,
		Style:               r.Style,
		TargetJobTitle:      r.TargetJobTitle,
		Status:              r.Status,
		OriginalCVText:      r.OriginalText,
		RewrittenCVText:     r.RewrittenText,
		RewrittenCVMarkdown: r.RewrittenMarkdown,
		ImprovementsMade:    nonNil(r.Improvements),
		KeywordsAdded:       nonNil(r.KeywordsAdded),
		ATSScoreBefore:      r.ATSScoreBefore,
		ATSScoreAfter:       r.ATSScoreAfter,
		ErrorMessage:        r.ErrorMessage,
		CreatedAt:           r.CreatedAt,
		CompletedAt:         r.CompletedAt,
	}
}

type coverLetterView struct {
	ID                  uint       `json:"id"`
	CVAnalysisID        *uint      `json:"cv_analysis_id"`
	Tone                string     `json:"tone"`
	JobTitle            string     `json:"job_title"`
	CompanyName         string     `json:"company_name"`
	Status              string     `json:"status"`
	CoverLetterText     string     `json:"cover_letter_text"`
	CoverLetterMarkdown string     `json:"cover_letter_markdown"`
	MatchingSkills      []string   `json:"matching_skills"`
	KeyHighlights       []string   `json:"key_highlights"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

func newCoverLetterView(l *database.CoverLetter) coverLetterView {
	return coverLetterView{
		ID:                  l.ID,
		CVAnalysisID:        l.CVAnalysisID,
		Tone:                l.Tone,
		JobTitle:            l.JobTitle,
		CompanyName:         l.CompanyName,
		Status:              l.Status,
		CoverLetterText:     l.LetterText,
		CoverLetterMarkdown: l.LetterMarkdown,
		MatchingSkills:      nonNil(l.MatchingSkills),
		KeyHighlights:       nonNil(l.KeyHighlights),
		ErrorMessage:        l.ErrorMessage,
		CreatedAt:           l.CreatedAt,
		CompletedAt:         l.CompletedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ATS

type skillView struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

type jobView struct {
	ID                uint        `json:"id"`
	Title             string      `json:"title"`
	CompanyName       string      `json:"company_name"`
	CompanyWebsite    string      `json:"company_website,omitempty"`
	Description       string      `json:"description"`
	Location          string      `json:"location"`
	EmploymentType    string      `json:"employment_type"`
	MinSalary         *int        `json:"min_salary"`
	MaxSalary         *int        `json:"max_salary"`
	Currency          string      `json:"currency"`
	Requirements      string      `json:"requirements"`
	Status            string      `json:"status"`
	IsActive          bool        `json:"is_active"`
	Skills            []skillView `json:"skills"`
	ApplicationsCount *int64      `json:"applications_count,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

func newJobView(j *database.Job) jobView {
	v := jobView{
		ID:             j.ID,
		Title:          j.Title,
		CompanyName:    j.Company.Name,
		CompanyWebsite: j.Company.Website,
		Description:    j.Description,
		Location:       j.Location,
		EmploymentType: j.EmploymentType,
		MinSalary:      j.MinSalary,
		MaxSalary:      j.MaxSalary,
		Currency:       j.Currency,
		Requirements:   j.RequirementsRaw,
		Status:         j.Status,
		IsActive:       j.IsActive,
		Skills:         make([]skillView, 0, len(j.Skills)),
		CreatedAt:      j.CreatedAt,
	}
	for _, s := range j.Skills {
		v.Skills = append(v.Skills, skillView{Name: s.Name, Required: s.Required})
	}
	return v
}

func newJobSummaryView(s *ats.JobSummary) jobView {
	v := newJobView(&s.Job)
	count := s.ApplicationsCount
	v.ApplicationsCount = &count
	return v
}

type candidateView struct {
	ID          uint   `json:"id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	LinkedInURL string `json:"linkedin_url"`
	Location    string `json:"location"`
}

type applicationView struct {
	ID             uint          `json:"id"`
	JobID          uint          `json:"job_id"`
	Status         string        `json:"status"`
	FitScore       *float64      `json:"fit_score"`
	CoverLetter    string        `json:"cover_letter"`
	HasResume      bool          `json:"has_resume"`
	ResumeFilename string        `json:"resume_filename,omitempty"`
	Source         string        `json:"source"`
	Candidate      candidateView `json:"candidate"`
	CreatedAt      time.Time     `json:"created_at"`
}

func newApplicationView(a *database.Application) applicationView {
	return applicationView{
		ID:             a.ID,
		JobID:          a.JobID,
		Status:         a.Status,
		FitScore:       a.FitScore,
		CoverLetter:    a.CoverLetter,
		HasResume:      a.ResumeKey != "",
		ResumeFilename: a.ResumeFilename,
		Source:         a.Source,
		Candidate: candidateView{
			ID:          a.Candidate.ID,
			FullName:    a.Candidate.FullName,
			Email:       a.Candidate.Email,
			Phone:       a.Candidate.Phone,
			LinkedInURL: a.Candidate.LinkedInURL,
			Location:    a.Candidate.Location,
		},
		CreatedAt: a.CreatedAt,
	}
}

type screeningView struct {
	ID             uint      `json:"id"`
	ApplicationID  uint      `json:"application_id"`
	ScreenedByID   *uint     `json:"screened_by_id"`
	Score          *float64  `json:"score"`
	SkillsMatched  []string  `json:"skills_matched"`
	SkillsMissing  []string  `json:"skills_missing"`
	Notes          string    `json:"notes"`
	Recommendation string    `json:"recommendation"`
	CreatedAt      time.Time `json:"created_at"`
}

func newScreeningView(s *database.Screening) screeningView {
	return screeningView{
		ID:             s.ID,
		ApplicationID:  s.ApplicationID,
		ScreenedByID:   s.ScreenedByID,
		Score:          s.Score,
		SkillsMatched:  nonNil(s.SkillsMatched),
		SkillsMissing:  nonNil(s.SkillsMissing),
		Notes:          s.Notes,
		Recommendation: s.Recommendation,
		CreatedAt:      s.CreatedAt,
	}
}

type metricView struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

type feedbackView struct {
	ID             uint      `json:"id"`
	AuthorUserID   uint      `json:"author_user_id"`
	Rating         int       `json:"rating"`
	Recommendation string    `json:"recommendation"`
	Comments       string    `json:"comments"`
	CreatedAt      time.Time `json:"created_at"`
}

type interviewView struct {
	ID                 uint           `json:"id"`
	ApplicationID      uint           `json:"application_id"`
	Type               string         `json:"type"`
	Status             string         `json:"status"`
	ScheduledStart     *time.Time     `json:"scheduled_start"`
	ScheduledEnd       *time.Time     `json:"scheduled_end"`
	MeetingURL         string         `json:"meeting_url"`
	InterviewerUserID  *uint          `json:"interviewer_user_id"`
	InterviewSessionID *string        `json:"interview_session_id"`
	WeightedScore      *float64       `json:"weighted_score,omitempty"`
	Metrics            []metricView   `json:"metrics"`
	Feedback           []feedbackView `json:"feedback"`
	CreatedAt          time.Time      `json:"created_at"`
}

func newInterviewView(iv *database.Interview) interviewView {
	v := interviewView{
		ID:                 iv.ID,
		ApplicationID:      iv.ApplicationID,
		Type:               iv.Type,
		Status:             iv.Status,
		ScheduledStart:     iv.ScheduledStart,
		ScheduledEnd:       iv.ScheduledEnd,
		MeetingURL:         iv.MeetingURL,
		InterviewerUserID:  iv.InterviewerUserID,
		InterviewSessionID: iv.InterviewSessionID,
		Metrics:            make([]metricView, 0, len(iv.Metrics)),
		Feedback:           make([]feedbackView, 0, len(iv.Feedback)),
		CreatedAt:          iv.CreatedAt,
	}
	for _, m := range iv.Metrics {
		v.Metrics = append(v.Metrics, metricView{Name: m.Name, Score: m.Score, Weight: m.Weight})
	}
	if len(iv.Metrics) > 0 {
		score := ats.WeightedScore(iv.Metrics)
		v.WeightedScore = &score
	}
	for _, f := range iv.Feedback {
		v.Feedback = append(v.Feedback, feedbackView{
			ID:             f.ID,
			AuthorUserID:   f.AuthorUserID,
			Rating:         f.Rating,
			Recommendation: f.Recommendation,
			Comments:       f.Comments,
			CreatedAt:      f.CreatedAt,
		})
	}
	return v
}
