package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"interviewly/internal/api/middleware"
	"interviewly/internal/cv"
	"interviewly/internal/upload"
)

// CVHandler serves CV analysis, rewriting, cover letters and exports.
type CVHandler struct {
	cv     *cv.Service
	logger *slog.Logger
}

func NewCVHandler(cvService *cv.Service, logger *slog.Logger) *CVHandler {
	return &CVHandler{cv: cvService, logger: logger}
}

// Upload 保存简历并排队分析，立即返回 202。
func (h *CVHandler) Upload(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	fh, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "file is required")
		return
	}
	file, err := upload.Read(fh, upload.DocumentExts, upload.MaxDocumentSize)
	if err != nil {
		if !writeUploadError(c, logger, err) {
			logger.Error("read cv upload failed", slog.Any("error", err))
			Internal(c, "internal error")
		}
		return
	}

	row, err := h.cv.Upload(c.Request.Context(), userID, cv.UploadInput{
		File:            file,
		TargetJobTitle:  c.PostForm("target_job_title"),
		TargetSeniority: c.PostForm("target_seniority"),
		CorrelationID:   middleware.GetCorrelationID(c),
	})
	if err != nil {
		if writeUploadError(c, logger, err) {
			return
		}
		h.writeError(c, logger, err, "CV analysis not found")
		return
	}
	logger.Info("cv uploaded", slog.Uint64("cv_analysis_id", uint64(row.ID)), slog.Int64("size", row.FileSize))
	c.JSON(http.StatusAccepted, gin.H{
		"id":       row.ID,
		"status":   row.Status,
		"filename": row.Filename,
		"message":  "CV uploaded. Analysis is running in the background.",
	})
}

func (h *CVHandler) Get(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	row, err := h.cv.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err, "CV analysis not found")
		return
	}
	c.JSON(http.StatusOK, newCVAnalysisView(row, true))
}

// List 按时间倒序分页列出分析记录。
func (h *CVHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	limit, offset := pagination(c, cv.DefaultListLimit)
	rows, total, err := h.cv.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err, "CV analysis not found")
		return
	}
	views := make([]cvAnalysisView, 0, len(rows))
	for i := range rows {
		views = append(views, newCVAnalysisView(&rows[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"analyses": views, "total": total})
}

func (h *CVHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.cv.Delete(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, h.loggerFromContext(c), err, "CV analysis not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "CV analysis deleted"})
}

type improveRequest struct {
	Style string `json:"style"`
}

// Improve queues a rewrite that applies the analysis feedback.
func (h *CVHandler) Improve(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req improveRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)), slog.Uint64("cv_analysis_id", uint64(id)))

	rewrite, err := h.cv.Improve(c.Request.Context(), userID, id, req.Style, middleware.GetCorrelationID(c))
	if err != nil {
		h.writeError(c, logger, err, "CV analysis not found")
		return
	}
	c.JSON(http.StatusAccepted, newCVRewriteView(rewrite))
}

func (h *CVHandler) ExportFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"formats": cv.ExportFormats()})
}

// Export 文本格式直接下载；PDF 首次请求返回 202，渲染完成后返回预签名链接。
func (h *CVHandler) Export(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "rewrite_id")
	if !ok {
		return
	}
	format := c.Param("format")
	logger := h.loggerFromContext(c).With(slog.Uint64("cv_rewrite_id", uint64(id)), slog.String("format", format))

	res, err := h.cv.Export(c.Request.Context(), userID, id, format, middleware.GetCorrelationID(c))
	if err != nil {
		h.writeError(c, logger, err, "CV rewrite not found")
		return
	}
	switch {
	case res.Pending:
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "processing",
			"filename": res.Filename,
			"message":  "PDF is being generated. You will be notified when it is ready.",
		})
	case res.URL != "":
		c.JSON(http.StatusOK, gin.H{"download_url": res.URL, "filename": res.Filename})
	default:
		c.Header("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
		c.Header("Content-Length", strconv.Itoa(len(res.Data)))
		c.Data(http.StatusOK, res.ContentType, res.Data)
	}
}

type rewriteRequest struct {
	CVText               string `json:"cv_text"`
	CVID                 *uint  `json:"cv_id"`
	Style                string `json:"style"`
	TargetJobTitle       string `json:"target_job_title" binding:"max=255"`
	TargetJobDescription string `json:"target_job_description"`
}

// Rewrite 改写粘贴的简历文本或已分析的简历。
func (h *CVHandler) Rewrite(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req rewriteRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	rewrite, err := h.cv.Rewrite(c.Request.Context(), userID, cv.RewriteInput{
		CVText:               req.CVText,
		CVAnalysisID:         req.CVID,
		Style:                req.Style,
		TargetJobTitle:       req.TargetJobTitle,
		TargetJobDescription: req.TargetJobDescription,
		CorrelationID:        middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.writeError(c, logger, err, "CV analysis not found")
		return
	}
	c.JSON(http.StatusAccepted, newCVRewriteView(rewrite))
}

func (h *CVHandler) GetRewrite(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	rewrite, err := h.cv.GetRewrite(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err, "CV rewrite not found")
		return
	}
	c.JSON(http.StatusOK, newCVRewriteView(rewrite))
}

type coverLetterRequest struct {
	CVText         string `json:"cv_text"`
	CVID           *uint  `json:"cv_id"`
	JobTitle       string `json:"job_title" binding:"required,max=255"`
	CompanyName    string `json:"company_name" binding:"required,max=255"`
	JobDescription string `json:"job_description" binding:"required"`
	Tone           string `json:"tone"`
	AdditionalInfo string `json:"additional_info"`
}

func (h *CVHandler) CreateCoverLetter(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req coverLetterRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	letter, err := h.cv.CreateCoverLetter(c.Request.Context(), userID, cv.CoverLetterInput{
		CVText:         req.CVText,
		CVAnalysisID:   req.CVID,
		JobTitle:       req.JobTitle,
		CompanyName:    req.CompanyName,
		JobDescription: req.JobDescription,
		Tone:           req.Tone,
		AdditionalInfo: req.AdditionalInfo,
		CorrelationID:  middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.writeError(c, logger, err, "CV analysis not found")
		return
	}
	c.JSON(http.StatusAccepted, newCoverLetterView(letter))
}

func (h *CVHandler) GetCoverLetter(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	letter, err := h.cv.GetCoverLetter(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err, "Cover letter not found")
		return
	}
	c.JSON(http.StatusOK, newCoverLetterView(letter))
}

func (h *CVHandler) writeError(c *gin.Context, logger *slog.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, cv.ErrNotFound):
		NotFound(c, notFound)
	case errors.Is(err, cv.ErrInvalidInput):
		BadRequest(c, detail(err, cv.ErrInvalidInput))
	case errors.Is(err, cv.ErrTextUnavailable):
		BadRequest(c, "CV text not available for improvement")
	case errors.Is(err, cv.ErrNoRewrittenText):
		BadRequest(c, "No rewritten CV text available")
	case errors.Is(err, cv.ErrUnsupportedFormat):
		BadRequest(c, "Unsupported format: "+detail(err, cv.ErrUnsupportedFormat))
	default:
		logger.Error("cv request failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func (h *CVHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	return loggerFor(c, h.logger)
}
