// Command voiceagent follows LiveKit interview rooms. LiveKit webhooks tell
// it when a room starts; it joins as a hidden participant, records the
// transcription and pushes transcripts to the API until each interview ends.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"interviewly/internal/config"
	"interviewly/internal/livekit"
	"interviewly/internal/voiceagent"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment only")
	}
	cfg, err := config.LoadVoice()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("service", "voiceagent"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := voiceagent.NewClient(cfg.Voice.BackendURL, cfg.API.InternalSecret, 30*time.Second)
	if err != nil {
		log.Fatalf("init backend client: %v", err)
	}
	agent := voiceagent.NewAgent(backend, voiceagent.Options{
		SaveInterval:  cfg.Voice.SaveInterval,
		MaxQuestions:  cfg.Voice.MaxQuestions,
		FinishBackoff: cfg.Voice.FinishBackoff,
		Logger:        logger,
	})

	tokens := livekit.NewTokenService(cfg.LiveKit)
	feed := voiceagent.NewRoomFeed(
		voiceagent.NewLiveKitJoiner(tokens, cfg.Voice.Identity, logger),
		voiceagent.NewWebhookReceiver(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret),
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/livekit/webhook", gin.WrapH(feed))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": feed.Rooms(), "sessions": agent.Active()})
	})
	srv := &http.Server{Addr: cfg.Voice.WebhookAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("livekit webhook listener started", slog.String("addr", cfg.Voice.WebhookAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("webhook listener failed", slog.Any("error", err))
			stop()
		}
	}()

	if err := agent.Run(ctx, feed); err != nil {
		logger.Error("room feed stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook listener shutdown failed", slog.Any("error", err))
	}
	_ = feed.Close()
	agent.Shutdown()
	logger.Info("voice agent stopped")
}
