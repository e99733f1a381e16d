package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"interviewly/internal/auth"
	"interviewly/internal/worker"
)

const (
	// wsAuthTimeout 连接建立后必须在此时间内发送 auth 帧。
	wsAuthTimeout = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingEvery   = 30 * time.Second
	wsWriteWait   = 5 * time.Second
)

// WsHandler pushes background task results (CV analysis, rewrites, cover
// letters, PDF exports) to the browser. The first frame must be
// {"type":"auth","token":"<access token>"}; the server answers
// {"type":"ready"} and then forwards every TaskNotifyMessage of the user.
type WsHandler struct {
	redisClient redis.UniversalClient
	authService *auth.AuthService
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	authTimeout time.Duration
}

func NewWsHandler(redisClient redis.UniversalClient, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	return &WsHandler{
		redisClient: redisClient,
		authService: authService,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return originAllowed(allowedOrigins, r) },
		},
		authTimeout: wsAuthTimeout,
	}
}

// originAllowed 未配置白名单时只接受同源请求；没有 Origin 头的非浏览器客户端放行。
func originAllowed(allowed []string, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(allowed) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	return slices.Contains(allowed, origin)
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleConnection upgrades the request, authenticates the first frame and
// streams notifications until either side goes away.
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	log := h.logger.With(slog.String("client_ip", c.ClientIP()))

	userID, reason, err := h.authenticate(conn)
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, reason)
		log.Warn("websocket authentication failed", slog.String("reason", reason), slog.Any("error", err))
		return
	}
	log = log.With(slog.Uint64("user_id", uint64(userID)))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 读协程只负责处理 pong 和发现断线，所有写操作留在 push 中。
	go func() {
		defer cancel()
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.push(ctx, conn, userID, log); err != nil {
		log.Info("websocket connection closed", slog.Any("error", err))
		return
	}
	log.Info("websocket connection closed")
}

// authenticate reads the auth frame. reason is the close text sent to the client.
func (h *WsHandler) authenticate(conn *websocket.Conn) (userID uint, reason string, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.authTimeout)); err != nil {
		return 0, "auth timeout", err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, "auth timeout", err
		}
		return 0, "read error", err
	}

	var msg wsAuthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, "invalid auth payload", err
	}
	if msg.Type != "auth" || msg.Token == "" {
		return 0, "auth required", errors.New("first frame is not an auth message")
	}
	claims, err := h.authService.ParseAccessToken(msg.Token)
	if err != nil {
		if errors.Is(err, auth.ErrWrongTokenType) {
			return 0, "access token required", err
		}
		return 0, "unauthorized", err
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, "read error", err
	}
	return claims.UserID, "", nil
}

func (h *WsHandler) push(ctx context.Context, conn *websocket.Conn, userID uint, log *slog.Logger) error {
	channel := worker.NotifyChannel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		writeClose(conn, websocket.CloseInternalServerErr, "subscribe failed")
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	if err := writeJSON(conn, gin.H{"type": "ready"}); err != nil {
		return err
	}

	ping := time.NewTicker(wsPingEvery)
	defer ping.Stop()
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("notification channel closed")
			}
			var note worker.TaskNotifyMessage
			if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil || note.Type == "" {
				log.Warn("dropping malformed notification", slog.String("payload", msg.Payload))
				continue
			}
			if err := writeJSON(conn, note); err != nil {
				return err
			}
			log.Debug("notification forwarded", slog.String("type", note.Type), slog.Uint64("entity_id", uint64(note.EntityID)))
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}
