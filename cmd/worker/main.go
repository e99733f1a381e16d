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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"interviewly/internal/config"
	"interviewly/internal/cv"
	"interviewly/internal/database"
	"interviewly/internal/llm"
	"interviewly/internal/metrics"
	"interviewly/internal/pdf"
	"interviewly/internal/quota"
	"interviewly/internal/storage"
	"interviewly/internal/tasks"
	"interviewly/internal/upload"
	"interviewly/internal/worker"
)

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
	logger.Info("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.Storage)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.Storage.Bucket))

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

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	tokens := quota.NewTokenUsageService(db, logger)
	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		log.Fatalf("init llm provider: %v", err)
	}
	llmService := llm.NewService(provider, nil, llm.TokenLogRecorder(tokens, logger), logger)
	cvService := cv.NewService(db, storageClient, asynqClient, upload.NewScanner(cfg.Clamd.Addr), llmService, logger)

	cvHandler := worker.NewCVTaskHandler(db, cvService, pdf.NewRenderer(cfg.Worker.ChromiumPath, cfg.Worker.PDFTimeout), worker.NewRedisNotifier(redisClient), logger)
	usageHandler := worker.NewUsageResetHandler(quota.NewService(db, logger), logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	cvHandler.Register(mux)
	mux.Handle(tasks.TypeUsageReset, usageHandler)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := scheduler.Register(cfg.Worker.UsageResetCron, tasks.NewUsageResetTask(), asynq.Unique(time.Hour))
	if err != nil {
		log.Fatalf("register usage reset schedule: %v", err)
	}
	logger.Info("usage reset scheduled", slog.String("cron", cfg.Worker.UsageResetCron), slog.String("entry_id", entryID))

	if cfg.Worker.MetricsPort > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	if err := scheduler.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	if err := server.Start(mux); err != nil {
		log.Fatalf("start worker server: %v", err)
	}
	logger.Info("worker service started",
		slog.String("redis_addr", cfg.Redis.Addr()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	<-ctx.Done()
	server.Shutdown()
	logger.Info("worker stopped")
}
