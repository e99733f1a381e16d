package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"interviewly/internal/llm"
)

// CareerHandler serves the AI career coach.
type CareerHandler struct {
	coach  *llm.Service
	logger *slog.Logger
}

func NewCareerHandler(coach *llm.Service, logger *slog.Logger) *CareerHandler {
	return &CareerHandler{coach: coach, logger: logger}
}

type careerMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type careerChatRequest struct {
	Message             string             `json:"message" binding:"required,max=4000"`
	ConversationHistory []careerMessage    `json:"conversation_history"`
	UserContext         *llm.CareerContext `json:"user_context"`
}

// Chat 额度由路由上的 RequireQuota 扣减。
func (h *CareerHandler) Chat(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req careerChatRequest
	if !bindJSON(c, &req) {
		return
	}
	history := make([]llm.Message, 0, len(req.ConversationHistory))
	for _, m := range req.ConversationHistory {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	ctx := llm.WithUser(c.Request.Context(), userID)
	reply := h.coach.CareerChat(ctx, req.Message, history, req.UserContext)
	if reply.Status == llm.CareerStatusLimited {
		loggerFor(c, h.logger).Info("career chat served fallback reply", slog.Uint64("user_id", uint64(userID)))
	}
	c.JSON(http.StatusOK, reply)
}

type careerSuggestionsRequest struct {
	CurrentRole     string   `json:"current_role" binding:"required"`
	Skills          []string `json:"skills" binding:"required"`
	ExperienceYears int      `json:"experience_years" binding:"gte=0,lte=60"`
	Interests       []string `json:"interests"`
}

func (h *CareerHandler) Suggestions(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req careerSuggestionsRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := llm.WithUser(c.Request.Context(), userID)
	c.JSON(http.StatusOK, h.coach.CareerSuggestions(ctx, llm.CareerProfile{
		CurrentRole:     req.CurrentRole,
		Skills:          req.Skills,
		ExperienceYears: req.ExperienceYears,
		Interests:       req.Interests,
	}))
}

func (h *CareerHandler) QuickTips(c *gin.Context) {
	topic, tips := llm.QuickTips(c.Query("topic"))
	c.JSON(http.StatusOK, gin.H{"topic": topic, "tips": tips})
}
