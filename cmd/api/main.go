package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"interviewly/internal/admin"
	"interviewly/internal/api"
	"interviewly/internal/ats"
	"interviewly/internal/auth"
	"interviewly/internal/config"
	"interviewly/internal/cv"
	"interviewly/internal/database"
	"interviewly/internal/interview"
	"interviewly/internal/livekit"
	"interviewly/internal/llm"
	"interviewly/internal/mail"
	"interviewly/internal/quota"
	"interviewly/internal/storage"
	"interviewly/internal/upload"
)

const version = "1.0.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment only")
	}
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	if err := quota.SeedDefaultPlans(ctx, db); err != nil {
		log.Fatalf("seed plans: %v", err)
	}
	if err := quota.SeedModelPricing(ctx, db); err != nil {
		log.Fatalf("seed model pricing: %v", err)
	}
	logger.Info("database ready",
		slog.String("host", cfg.Database.Host),
		slog.String("db", cfg.Database.Name),
	)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	storageClient, err := storage.NewClient(cfg.Storage)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	privPEM, pubPEM, err := auth.LoadKeyPair(cfg.Auth)
	if err != nil {
		log.Fatalf("load jwt keys: %v", err)
	}
	authService, err := auth.NewAuthService(privPEM, pubPEM, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	tokens := quota.NewTokenUsageService(db, logger)
	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("init llm provider: %v", err)
	}
	embedder, err := llm.NewEmbedder(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("init embedder: %v", err)
	}
	llmService := llm.NewService(provider, embedder, llm.TokenLogRecorder(tokens, logger), logger)
	if !llmService.Configured() {
		logger.Warn("no llm provider configured, AI features use canned responses")
	}

	sessions := interview.NewService(db, llmService, logger)
	conversations := interview.NewConversationService(sessions, llmService, interview.NewRedisStore(redisClient), logger)
	scanner := upload.NewScanner(cfg.Clamd.Addr)
	cvService := cv.NewService(db, storageClient, asynqClient, scanner, llmService, logger)

	atsOpts := ats.Options{
		Store:         storageClient,
		Scanner:       scanner,
		LLM:           llmService,
		Mailer:        mail.New(cfg.Mail, logger),
		Sessions:      sessions,
		Logger:        logger,
		PublicBaseURL: cfg.API.PublicBaseURL,
	}
	matcher, err := ats.NewQdrantMatcher(cfg.Qdrant, llmService, logger)
	if err != nil {
		log.Fatalf("init qdrant matcher: %v", err)
	}
	if matcher != nil {
		defer matcher.Close()
		atsOpts.Matcher = matcher
	}
	atsService := ats.NewService(db, atsOpts)

	quotaService := quota.NewService(db, logger)
	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Handlers{
		Auth:      api.NewAuthHandler(db, authService, redisClient, logger, cfg.Auth),
		Interview: api.NewInterviewHandler(sessions, conversations, logger),
		LiveKit:   api.NewLiveKitHandler(livekit.NewTokenService(cfg.LiveKit), sessions, logger),
		CV:        api.NewCVHandler(cvService, logger),
		ATS:       api.NewATSHandler(atsService, logger),
		Career:    api.NewCareerHandler(llmService, logger),
		Pricing:   api.NewPricingHandler(quota.NewPlanService(db), quotaService, logger),
		Admin:     api.NewAdminHandler(admin.NewService(db, tokens), logger),
		Health:    api.NewHealthHandler(db, redisClient, storageClient, version),
		Ws:        api.NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins),
	}, authService, quotaService, cfg.API.InternalSecret)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr), slog.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
	logger.Info("api stopped")
}
