package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/database"
	"github.com/qs3c/cv_score_server/internal/pkg/cron"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/oss"
	"github.com/qs3c/cv_score_server/internal/pkg/pdftext"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/pkg/scoring"
	"github.com/qs3c/cv_score_server/internal/repository"
	"github.com/qs3c/cv_score_server/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	l, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer l.Sync()

	if err := pdftext.SetLicense(cfg.PDF.LicenseKey); err != nil {
		l.Fatal("Failed to set pdf license", zap.Error(err))
	}
	if pdftext.Licensed() {
		l.Info("PDF extraction uses unipdf")
	} else {
		l.Info("PDF license key not set, using the built-in PDF reader")
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		l.Fatal("Failed to connect database", zap.Error(err))
	}
	l.Info("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		l.Fatal("Failed to connect redis", zap.Error(err))
	}
	l.Info("Redis connected")

	// worker 需要从 OSS 拉取文件，OSS 为必选
	ossClient, err := oss.NewClient(&cfg.OSS)
	if err != nil {
		l.Fatal("Failed to init OSS client", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scorer, err := scoring.NewGeminiClient(ctx, &cfg.Scoring)
	if err != nil {
		l.Fatal("Failed to init scoring client", zap.Error(err))
	}

	// 初始化两级队列和 Pub/Sub
	opts := queue.OptionsFromConfig(&cfg.Queue)
	extractionQueue := queue.NewRedisQueue(rdb, cfg.Queue.ExtractionQueue, opts)
	analysisQueue := queue.NewRedisQueue(rdb, cfg.Queue.AnalysisQueue, opts)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	cvRepo := repository.NewCVRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	logRepo := repository.NewProcessingLogRepository(db)
	recorder := worker.NewRecorder(logRepo, l)

	extraction := worker.NewExtractionStage(
		cvRepo, ossClient, pdftext.New(),
		extractionQueue, analysisQueue,
		recorder, publisher, &cfg.Upload, l,
	)
	analysis := worker.NewAnalysisStage(
		cvRepo, analysisRepo, scorer,
		analysisQueue,
		recorder, publisher, &cfg.Scoring, l,
	)

	pools := []*worker.Pool{
		worker.NewPool(extractionQueue, extraction.Handle, worker.PoolConfig{
			Concurrency:  cfg.Queue.ExtractionConcurrency,
			PollInterval: cfg.Queue.PollInterval(),
			LockDuration: cfg.Queue.LockDuration(),
		}, l),
		worker.NewPool(analysisQueue, analysis.Handle, worker.PoolConfig{
			Concurrency:  cfg.Queue.AnalysisConcurrency,
			PollInterval: cfg.Queue.PollInterval(),
			LockDuration: cfg.Queue.LockDuration(),
		}, l),
	}

	cleaner := cron.NewService(
		[]cron.Cleaner{extractionQueue, analysisQueue},
		cfg.Queue.CompletedTTL(), cfg.Queue.FailedTTL(), cfg.Queue.CleanupInterval(),
		l,
	)

	supervisor := worker.NewSupervisor([]queue.Queue{extractionQueue, analysisQueue}, pools, cleaner, l)
	if err := supervisor.Start(ctx); err != nil {
		l.Fatal("Failed to start worker", zap.Error(err))
	}

	l.Info("Worker started",
		zap.Int("extraction_concurrency", cfg.Queue.ExtractionConcurrency),
		zap.Int("analysis_concurrency", cfg.Queue.AnalysisConcurrency),
		zap.String("model", scorer.Model()),
	)

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	l.Info("Received shutdown signal")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := supervisor.Stop(stopCtx); err != nil {
		l.Error("Worker shutdown incomplete", zap.Error(err))
	}
	cancel()

	l.Info("Worker shutdown complete")
}
