package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"interviewly/internal/database"
	"interviewly/internal/interview"
	"interviewly/internal/livekit"
	"interviewly/internal/llm"
)

// InterviewHandler serves structured, conversational and voice interviews.
type InterviewHandler struct {
	sessions      *interview.Service
	conversations *interview.ConversationService
	logger        *slog.Logger
}

func NewInterviewHandler(sessions *interview.Service, conversations *interview.ConversationService, logger *slog.Logger) *InterviewHandler {
	return &InterviewHandler{sessions: sessions, conversations: conversations, logger: logger}
}

type startInterviewRequest struct {
	JobTitle     string `json:"job_title" binding:"required,max=255"`
	Seniority    string `json:"seniority" binding:"required,oneof=junior mid senior"`
	Language     string `json:"language" binding:"omitempty,oneof=en ar"`
	NumQuestions int    `json:"num_questions" binding:"omitempty,min=1,max=20"`
}

func (r startInterviewRequest) input(mode string) interview.StartInput {
	return interview.StartInput{
		JobTitle:     r.JobTitle,
		Seniority:    r.Seniority,
		Language:     r.Language,
		NumQuestions: r.NumQuestions,
		Mode:         mode,
	}
}

// Start 创建结构化面试并返回第一题。
func (h *InterviewHandler) Start(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req startInterviewRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	session, err := h.sessions.Start(c.Request.Context(), userID, req.input(database.ModeStructured))
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("interview started", slog.String("session_id", session.ID), slog.Int("num_questions", len(session.Questions)))

	var first *questionView
	if len(session.Questions) > 0 {
		first = newQuestionView(&session.Questions[0])
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":     session.ID,
		"first_question": first,
	})
}

type answerRequest struct {
	SessionID      string `json:"session_id" binding:"required"`
	QuestionID     uint   `json:"question_id" binding:"required"`
	UserAnswerText string `json:"user_answer_text" binding:"required"`
}

type answerResponse struct {
	ScoreOverall    float64             `json:"score_overall"`
	DimensionScores llm.DimensionScores `json:"dimension_scores"`
	CoachNotes      string              `json:"coach_notes"`
	IsLastQuestion  bool                `json:"is_last_question"`
	NextQuestion    *questionView       `json:"next_question"`
}

// Answer 评分当前回答并返回下一题。
func (h *InterviewHandler) Answer(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req answerRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", req.SessionID),
	)

	result, err := h.sessions.Answer(c.Request.Context(), userID, req.SessionID, req.QuestionID, req.UserAnswerText)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, answerResponse{
		ScoreOverall:    result.Evaluation.ScoreOverall,
		DimensionScores: result.Evaluation.DimensionScores,
		CoachNotes:      result.Evaluation.CoachNotes,
		IsLastQuestion:  result.IsLast,
		NextQuestion:    newQuestionView(result.NextQuestion),
	})
}

type sessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// Finish 汇总面试；已完成的会话直接返回原总结。
func (h *InterviewHandler) Finish(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req sessionRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", req.SessionID),
	)

	session, summary, err := h.sessions.Finish(c.Request.Context(), userID, req.SessionID)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "summary": summary})
}

func (h *InterviewHandler) GetSession(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, newSessionView(session, true))
}

// ListSessions returns the caller's interview history, newest first.
func (h *InterviewHandler) ListSessions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	limit, offset := pagination(c, 20)
	sessions, total, err := h.sessions.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, newSessionView(&sessions[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views, "total": total})
}

// StartVoice 创建语音面试会话，题目由语音 agent 现场提出。
func (h *InterviewHandler) StartVoice(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req startInterviewRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	session, err := h.sessions.CreateSession(c.Request.Context(), &userID, req.input(database.ModeVoice))
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("voice interview created", slog.String("session_id", session.ID))
	c.JSON(http.StatusCreated, gin.H{
		"session_id":    session.ID,
		"room_name":     livekit.RoomName(session.ID),
		"num_questions": session.NumQuestions,
		"mode":          session.Mode,
	})
}

type conversationReply struct {
	SessionID string `json:"session_id"`
	interview.Reply
}

type conversationStartRequest struct {
	JobTitle     string `json:"job_title" binding:"required,max=255"`
	Seniority    string `json:"seniority" binding:"required,oneof=junior mid senior"`
	Language     string `json:"language" binding:"omitempty,oneof=en ar"`
	NumQuestions int    `json:"num_questions" binding:"omitempty,min=1,max=20"`
}

// StartConversation 开始对话式面试，返回问候语。
func (h *InterviewHandler) StartConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req conversationStartRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	conv, reply, err := h.conversations.Start(c.Request.Context(), userID, interview.StartInput{
		JobTitle:     req.JobTitle,
		Seniority:    req.Seniority,
		Language:     req.Language,
		NumQuestions: req.NumQuestions,
	})
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("conversation started", slog.String("session_id", conv.SessionID))
	c.JSON(http.StatusOK, conversationReply{SessionID: conv.SessionID, Reply: reply})
}

type conversationAnswerRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Answer    string `json:"answer" binding:"required"`
}

func (h *InterviewHandler) AnswerConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req conversationAnswerRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := h.loggerFromContext(c).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", req.SessionID),
	)

	reply, err := h.conversations.Answer(c.Request.Context(), userID, req.SessionID, req.Answer)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	if reply.IsComplete {
		logger.Info("conversation completed", slog.Int("questions_asked", reply.QuestionsAsked))
	}
	c.JSON(http.StatusOK, conversationReply{SessionID: req.SessionID, Reply: reply})
}

// EndConversation 提前结束对话并返回完整记录。
func (h *InterviewHandler) EndConversation(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req sessionRequest
	if !bindJSON(c, &req) {
		return
	}
	reply, history, err := h.conversations.End(c.Request.Context(), userID, req.SessionID)
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":           req.SessionID,
		"message":              reply.Message,
		"type":                 reply.Type,
		"questions_asked":      reply.QuestionsAsked,
		"total_questions":      reply.TotalQuestions,
		"is_complete":          true,
		"conversation_history": history,
	})
}

func (h *InterviewHandler) ConversationSummary(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	conv, err := h.conversations.Summary(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, h.loggerFromContext(c), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":           conv.SessionID,
		"job_title":            conv.JobTitle,
		"seniority":            conv.Seniority,
		"questions_asked":      conv.QuestionsAsked,
		"total_questions":      conv.NumQuestions,
		"is_complete":          conv.Complete,
		"topics_covered":       nonNil(conv.TopicsCovered),
		"total_messages":       len(conv.History),
		"conversation_history": conv.History,
		"started_at":           conv.StartedAt,
	})
}

func (h *InterviewHandler) ConversationHealth(c *gin.Context) {
	active, err := h.conversations.ActiveCount(c.Request.Context())
	if err != nil {
		h.loggerFromContext(c).Error("count conversations failed", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "llm_configured": h.conversations.LLMConfigured()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"llm_configured":  h.conversations.LLMConfigured(),
		"active_sessions": active,
	})
}

// SaveTranscript 由语音 sidecar 调用；旧版本的转写被忽略但仍返回 200。
func (h *InterviewHandler) SaveTranscript(c *gin.Context) {
	var t interview.Transcript
	if !bindJSON(c, &t) {
		return
	}
	sessionID := c.Param("id")
	logger := h.loggerFromContext(c).With(slog.String("session_id", sessionID))

	applied, err := h.sessions.SaveTranscript(c.Request.Context(), sessionID, t)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied, "revision": t.Revision, "entries": len(t.Entries)})
}

type voiceFinishRequest struct {
	QuestionsAsked int `json:"questions_asked"`
}

func (h *InterviewHandler) FinishVoice(c *gin.Context) {
	var req voiceFinishRequest
	if c.Request.ContentLength != 0 {
		if !bindJSON(c, &req) {
			return
		}
	}
	sessionID := c.Param("id")
	logger := h.loggerFromContext(c).With(slog.String("session_id", sessionID))

	session, summary, err := h.sessions.FinishVoice(c.Request.Context(), sessionID, req.QuestionsAsked)
	if err != nil {
		h.writeError(c, logger, err)
		return
	}
	logger.Info("voice interview finished", slog.Float64("overall_score", summary.OverallScore))
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "summary": summary})
}

func (h *InterviewHandler) writeError(c *gin.Context, logger *slog.Logger, err error) {
	var incomplete *interview.IncompleteError
	switch {
	case errors.Is(err, interview.ErrInvalidInput):
		BadRequest(c, detail(err, interview.ErrInvalidInput))
	case errors.Is(err, interview.ErrSessionNotFound):
		NotFound(c, "Interview session not found")
	case errors.Is(err, interview.ErrSessionNotActive):
		BadRequest(c, "Interview session is not active")
	case errors.Is(err, interview.ErrQuestionNotFound):
		NotFound(c, "Question not found or does not belong to this session")
	case errors.Is(err, interview.ErrAlreadyAnswered):
		BadRequest(c, "Answer already submitted for this question")
	case errors.As(err, &incomplete):
		BadRequest(c, fmt.Sprintf("Not all questions have been answered. Answered: %d/%d", incomplete.Answered, incomplete.Total))
	case errors.Is(err, interview.ErrConversationGone):
		NotFound(c, "Interview session not found or expired")
	case errors.Is(err, interview.ErrConversationEnded):
		BadRequest(c, "Interview is already complete")
	case errors.Is(err, interview.ErrNoQuestions):
		logger.Error("interview plan empty", slog.Any("error", err))
		Internal(c, "Failed to generate interview questions")
	default:
		logger.Error("interview request failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func (h *InterviewHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	return loggerFor(c, h.logger)
}
