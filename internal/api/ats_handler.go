package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"interviewly/internal/ats"
	"interviewly/internal/upload"
)

// ATSHandler exposes the recruiter pipeline: jobs, applications, screenings,
// interviews and feedback, plus the public job page and apply form.
type ATSHandler struct {
	ats    *ats.Service
	logger *slog.Logger
}

func NewATSHandler(atsService *ats.Service, logger *slog.Logger) *ATSHandler {
	return &ATSHandler{ats: atsService, logger: logger}
}

type skillRequest struct {
	Name     string `json:"name" binding:"required"`
	Required bool   `json:"required"`
}

type jobRequest struct {
	Title          string         `json:"title" binding:"required,max=255"`
	CompanyName    string         `json:"company_name" binding:"max=255"`
	CompanyWebsite string         `json:"company_website" binding:"max=255"`
	Description    string         `json:"description" binding:"required"`
	Location       string         `json:"location" binding:"max=255"`
	EmploymentType string         `json:"employment_type"`
	Requirements   string         `json:"requirements"`
	MinSalary      *int           `json:"min_salary"`
	MaxSalary      *int           `json:"max_salary"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	Skills         []skillRequest `json:"skills" binding:"dive"`
}

func (h *ATSHandler) CreateJob(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req jobRequest
	if !bindJSON(c, &req) {
		return
	}
	skills := make([]ats.SkillInput, 0, len(req.Skills))
	for _, s := range req.Skills {
		skills = append(skills, ats.SkillInput{Name: s.Name, Required: s.Required})
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	job, err := h.ats.CreateJob(c.Request.Context(), userID, ats.JobInput{
		Title:          req.Title,
		CompanyName:    req.CompanyName,
		CompanyWebsite: req.CompanyWebsite,
		Description:    req.Description,
		Location:       req.Location,
		EmploymentType: req.EmploymentType,
		Requirements:   req.Requirements,
		MinSalary:      req.MinSalary,
		MaxSalary:      req.MaxSalary,
		Currency:       req.Currency,
		Status:         req.Status,
		Skills:         skills,
	})
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("job created", slog.Uint64("job_id", uint64(job.ID)))
	c.JSON(http.StatusCreated, newJobView(job))
}

// ListJobs 支持 search 与 filter_status=all|active|inactive。
func (h *ATSHandler) ListJobs(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobs, err := h.ats.ListJobs(c.Request.Context(), userID, ats.JobFilter{
		Search:       c.Query("search"),
		FilterStatus: c.DefaultQuery("filter_status", ats.FilterAll),
	})
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, newJobSummaryView(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views, "total": len(views)})
}

func (h *ATSHandler) GetJob(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	job, err := h.ats.GetJob(c.Request.Context(), userID, jobID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, newJobSummaryView(job))
}

// PublicJob is the unauthenticated job page.
func (h *ATSHandler) PublicJob(c *gin.Context) {
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	job, err := h.ats.PublicJob(c.Request.Context(), jobID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, newJobView(job))
}

func (h *ATSHandler) ToggleActive(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	job, err := h.ats.ToggleActive(c.Request.Context(), userID, jobID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, newJobSummaryView(job))
}

// Apply 公开投递接口（multipart），简历可选。
func (h *ATSHandler) Apply(c *gin.Context) {
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("job_id", uint64(jobID)))

	in := ats.ApplyInput{
		FullName:    c.PostForm("full_name"),
		Email:       c.PostForm("email"),
		Phone:       c.PostForm("phone"),
		LinkedInURL: c.PostForm("linkedin_url"),
		Location:    c.PostForm("location"),
		CoverLetter: c.PostForm("cover_letter"),
	}
	if fh, err := c.FormFile("resume"); err == nil {
		file, err := upload.Read(fh, upload.DocumentExts, upload.MaxDocumentSize)
		if err != nil {
			if !writeUploadError(c, logger, err) {
				logger.Error("read resume upload failed", slog.Any("error", err))
				Internal(c, "internal error")
			}
			return
		}
		in.Resume = file
	} else if !errors.Is(err, http.ErrMissingFile) {
		BadRequest(c, "invalid multipart form")
		return
	}

	app, err := h.ats.Apply(c.Request.Context(), jobID, in)
	if err != nil {
		if writeUploadError(c, logger, err) {
			return
		}
		h.writeError(c, logger, err)
		return
	}
	logger.Info("application received", slog.Uint64("application_id", uint64(app.ID)))
	c.JSON(http.StatusCreated, gin.H{
		"id":        app.ID,
		"status":    app.Status,
		"fit_score": app.FitScore,
		"message":   "Application submitted successfully",
	})
}

func (h *ATSHandler) ListApplications(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	apps, err := h.ats.ListApplications(c.Request.Context(), userID, jobID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	views := make([]applicationView, 0, len(apps))
	for i := range apps {
		views = append(views, newApplicationView(&apps[i]))
	}
	c.JSON(http.StatusOK, gin.H{"applications": views, "total": len(views)})
}

// ExportApplications 导出职位的申请列表为 xlsx。
func (h *ATSHandler) ExportApplications(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	data, filename, err := h.ats.ExportApplications(c.Request.Context(), userID, jobID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, xlsxContentType, data)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *ATSHandler) UpdateApplicationStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	appID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}
	app, err := h.ats.UpdateApplicationStatus(c.Request.Context(), userID, appID, req.Status)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, newApplicationView(app))
}

// ApplicationCV returns a presigned link to the applicant's resume.
func (h *ATSHandler) ApplicationCV(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	appID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	url, err := h.ats.ApplicationCVURL(c.Request.Context(), userID, appID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type screeningRequest struct {
	Score          *float64 `json:"score"`
	Notes          string   `json:"notes"`
	Recommendation string   `json:"recommendation"`
}

func (h *ATSHandler) AddScreening(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	appID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req screeningRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.ats.AddScreening(c.Request.Context(), userID, appID, ats.ScreeningInput{
		Score:          req.Score,
		Notes:          req.Notes,
		Recommendation: req.Recommendation,
	})
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusCreated, newScreeningView(s))
}

func (h *ATSHandler) ListScreenings(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	appID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.ats.ListScreenings(c.Request.Context(), userID, appID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	views := make([]screeningView, 0, len(rows))
	for i := range rows {
		views = append(views, newScreeningView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"screenings": views})
}

type interviewRequest struct {
	Type           string     `json:"type" binding:"required"`
	ScheduledStart *time.Time `json:"scheduled_start"`
	ScheduledEnd   *time.Time `json:"scheduled_end"`
	MeetingURL     string     `json:"meeting_url" binding:"max=512"`
	InterviewerID  *uint      `json:"interviewer_user_id"`
	Seniority      string     `json:"seniority"`
	NumQuestions   int        `json:"num_questions" binding:"omitempty,min=1,max=20"`
}

// ScheduleInterview 安排人工或 AI 面试。
func (h *ATSHandler) ScheduleInterview(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	appID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req interviewRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("application_id", uint64(appID)))

	iv, err := h.ats.ScheduleInterview(c.Request.Context(), userID, appID, ats.InterviewInput{
		Type:           req.Type,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		MeetingURL:     req.MeetingURL,
		InterviewerID:  req.InterviewerID,
		Seniority:      req.Seniority,
		NumQuestions:   req.NumQuestions,
	})
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("interview scheduled", slog.Uint64("interview_id", uint64(iv.ID)), slog.String("type", iv.Type))
	c.JSON(http.StatusCreated, newInterviewView(iv))
}

func (h *ATSHandler) ListInterviews(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	appID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.ats.ListInterviews(c.Request.Context(), userID, appID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	views := make([]interviewView, 0, len(rows))
	for i := range rows {
		views = append(views, newInterviewView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"interviews": views})
}

type metricRequest struct {
	Name   string  `json:"name" binding:"required"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

type feedbackRequest struct {
	Rating         int             `json:"rating" binding:"required"`
	Recommendation string          `json:"recommendation"`
	Comments       string          `json:"comments"`
	Metrics        []metricRequest `json:"metrics" binding:"dive"`
}

func (h *ATSHandler) AddFeedback(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	interviewID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req feedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	metrics := make([]ats.MetricInput, 0, len(req.Metrics))
	for _, m := range req.Metrics {
		metrics = append(metrics, ats.MetricInput{Name: m.Name, Score: m.Score, Weight: m.Weight})
	}
	iv, err := h.ats.AddFeedback(c.Request.Context(), userID, interviewID, ats.FeedbackInput{
		Rating:         req.Rating,
		Recommendation: req.Recommendation,
		Comments:       req.Comments,
		Metrics:        metrics,
	})
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusCreated, newInterviewView(iv))
}

// SocialPost drafts a LinkedIn-style announcement for a job.
func (h *ATSHandler) SocialPost(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	jobID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	post, err := h.ats.SocialPost(c.Request.Context(), userID, jobID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, post)
}

func (h *ATSHandler) writeError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, ats.ErrInvalidInput):
		BadRequest(c, detail(err, ats.ErrInvalidInput))
	case errors.Is(err, ats.ErrInvalidInterviewType):
		BadRequest(c, "Invalid interview type. Must be 'HUMAN' or 'AI'")
	case errors.Is(err, ats.ErrJobNotFound):
		NotFound(c, "Job not found")
	case errors.Is(err, ats.ErrJobNotOpen):
		NotFound(c, "Job not found or not accepting applications")
	case errors.Is(err, ats.ErrApplicationNotFound):
		NotFound(c, "Application not found")
	case errors.Is(err, ats.ErrInterviewNotFound):
		NotFound(c, "Interview not found")
	case errors.Is(err, ats.ErrNoResume):
		NotFound(c, "CV not found for this application")
	case errors.Is(err, ats.ErrForbidden):
		Forbidden(c, "Not authorized for this application")
	case errors.Is(err, ats.ErrAlreadyApplied):
		Conflict(c, "You have already applied to this job")
	case errors.Is(err, ats.ErrAIUnavailable):
		Error(c, http.StatusServiceUnavailable, "AI interviews are not available")
	default:
		logger.Error("ats request failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func (h *ATSHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	return loggerFor(c, h.logger)
}
