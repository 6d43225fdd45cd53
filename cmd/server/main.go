package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/api"
	"github.com/qs3c/cv_score_server/internal/api/handler"
	"github.com/qs3c/cv_score_server/internal/database"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/oss"
	"github.com/qs3c/cv_score_server/internal/pkg/pubsub"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
	"github.com/qs3c/cv_score_server/internal/pkg/ws"
	"github.com/qs3c/cv_score_server/internal/repository"
	"github.com/qs3c/cv_score_server/internal/service"
)

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

	// 初始化 OSS（可选）
	var storage service.ObjectStorage
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err := oss.NewClient(&cfg.OSS)
		if err != nil {
			l.Warn("Failed to init OSS client", zap.Error(err))
		} else {
			storage = ossClient
			l.Info("OSS client initialized")
		}
	}

	// 提取队列，server 只负责投递
	extractionQueue := queue.NewRedisQueue(rdb, cfg.Queue.ExtractionQueue, queue.OptionsFromConfig(&cfg.Queue))
	defer extractionQueue.Close()

	// 初始化 Repository
	cvRepo := repository.NewCVRepository(db)
	logRepo := repository.NewProcessingLogRepository(db)

	// 初始化 Service
	cvService := service.NewCVService(cvRepo, logRepo, storage, extractionQueue, cfg, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 WebSocket Hub，并把 worker 发布的进度转发给前端
	wsHub := ws.NewHub(l)
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(ctx, handler.ForwardProgress(wsHub, l))
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("Progress subscriber stopped", zap.Error(err))
		}
	}()
	l.Info("Progress subscriber started", zap.String("channel", pubsub.ChannelCVProgress))

	// 初始化 Handler
	cvHandler := handler.NewCVHandler(cvService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.CORS.AllowedOrigins, l)

	// 初始化 Router
	router := api.NewRouter(cvHandler, websocketHandler, cfg)
	engine := router.Setup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		l.Info("Server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	l.Info("Received shutdown signal")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("Server shutdown failed", zap.Error(err))
	}
	l.Info("Server shutdown complete")
}
