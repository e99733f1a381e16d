package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"interviewly/internal/interview"
	"interviewly/internal/livekit"
)

// LiveKitHandler 为语音面试签发房间令牌。
type LiveKitHandler struct {
	tokens   *livekit.TokenService
	sessions *interview.Service
	logger   *slog.Logger
}

func NewLiveKitHandler(tokens *livekit.TokenService, sessions *interview.Service, logger *slog.Logger) *LiveKitHandler {
	return &LiveKitHandler{tokens: tokens, sessions: sessions, logger: logger}
}

type liveKitTokenRequest struct {
	SessionID       string `json:"session_id" binding:"required"`
	ParticipantName string `json:"participant_name"`
}

// Token issues a join token for the room of one of the caller's sessions.
func (h *LiveKitHandler) Token(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req liveKitTokenRequest
	if !bindJSON(c, &req) {
		return
	}
	logger := loggerFor(c, h.logger).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.String("session_id", req.SessionID),
	)

	if _, err := h.sessions.Get(c.Request.Context(), userID, req.SessionID); err != nil {
		if errors.Is(err, interview.ErrSessionNotFound) {
			NotFound(c, "Interview session not found")
			return
		}
		logger.Error("load session for livekit token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	grant, err := h.tokens.Issue(req.SessionID, req.ParticipantName)
	switch {
	case errors.Is(err, livekit.ErrNotConfigured):
		logger.Warn("livekit token requested but not configured")
		Internal(c, "LiveKit is not configured")
		return
	case errors.Is(err, livekit.ErrInvalidInput):
		BadRequest(c, detail(err, livekit.ErrInvalidInput))
		return
	case err != nil:
		logger.Error("issue livekit token failed", slog.Any("error", err))
		Internal(c, "Failed to generate token")
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *LiveKitHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.tokens.Health())
}
