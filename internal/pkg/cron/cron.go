package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/internal/pkg/queue"
)

// Cleaner 支持按完成时间清理终态任务的队列
type Cleaner interface {
	Name() string
	Clean(ctx context.Context, state queue.State, olderThan time.Duration) (int, error)
}

// Result 单个队列一次清理的结果
type Result struct {
	Queue     string
	Completed int
	Failed    int
}

type Service struct {
	queues       []Cleaner
	completedTTL time.Duration
	failedTTL    time.Duration
	interval     time.Duration
	logger       *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(queues []Cleaner, completedTTL, failedTTL, interval time.Duration, logger *zap.Logger) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		queues:       queues,
		completedTTL: completedTTL,
		failedTTL:    failedTTL,
		interval:     interval,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

// Start 启动定时清理
func (s *Service) Start() {
	s.wg.Add(1)
	go s.runCleanup()
	s.logger.Info("Cron service started",
		zap.Duration("interval", s.interval),
		zap.Duration("completed_ttl", s.completedTTL),
		zap.Duration("failed_ttl", s.failedTTL),
	)
}

// Stop 停止定时任务并等待正在执行的清理结束，可重复调用
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Cron service stopped")
}

func (s *Service) runCleanup() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			_, _ = s.RunNow(ctx)
			cancel()
		}
	}
}

// RunNow 立即对所有队列执行一次清理
func (s *Service) RunNow(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(s.queues))
	var errs []error

	for _, q := range s.queues {
		res := Result{Queue: q.Name()}

		completed, err := q.Clean(ctx, queue.StateCompleted, s.completedTTL)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean completed jobs in %s: %w", q.Name(), err))
		}
		res.Completed = completed

		failed, err := q.Clean(ctx, queue.StateFailed, s.failedTTL)
		if err != nil {
			errs = append(errs, fmt.Errorf("clean failed jobs in %s: %w", q.Name(), err))
		}
		res.Failed = failed

		if res.Completed+res.Failed > 0 {
			s.logger.Info("Cleanup summary",
				zap.String("queue", res.Queue),
				zap.Int("completed", res.Completed),
				zap.Int("failed", res.Failed),
			)
		}
		results = append(results, res)
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Warn("Cleanup finished with errors", zap.Error(err))
	}
	return results, err
}
