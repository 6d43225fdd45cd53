package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/qs3c/cv_score_server/internal/pkg/cron"
	"github.com/qs3c/cv_score_server/internal/pkg/logger"
	"github.com/qs3c/cv_score_server/internal/pkg/queue"
)

// Supervisor 管理两个阶段的消费者池和队列清理任务
type Supervisor struct {
	queues  []queue.Queue
	pools   []*Pool
	cleaner *cron.Service
	logger  *zap.Logger
}

// NewSupervisor cleaner 可以为 nil
func NewSupervisor(queues []queue.Queue, pools []*Pool, cleaner *cron.Service, l *zap.Logger) *Supervisor {
	return &Supervisor{
		queues:  queues,
		pools:   pools,
		cleaner: cleaner,
		logger:  logger.OrNop(l),
	}
}

// Start 检查队列连通性，执行一次清理后启动所有消费者池
func (s *Supervisor) Start(ctx context.Context) error {
	for _, q := range s.queues {
		if err := q.Ping(ctx); err != nil {
			return fmt.Errorf("queue %s unreachable: %w", q.Name(), err)
		}
	}

	if s.cleaner != nil {
		results, err := s.cleaner.RunNow(ctx)
		if err != nil {
			s.logger.Warn("startup queue cleanup failed", zap.Error(err))
		}
		for _, r := range results {
			s.logger.Info("startup queue cleanup",
				zap.String(logger.FieldQueue, r.Queue),
				zap.Int("completed", r.Completed),
				zap.Int("failed", r.Failed),
			)
		}
		s.cleaner.Start()
	}

	for _, p := range s.pools {
		p.Start(ctx)
	}
	return nil
}

// Stop 先让所有消费者池停止领取任务，再并行等待执行中的任务，随后关闭队列
func (s *Supervisor) Stop(ctx context.Context) error {
	for _, p := range s.pools {
		p.Quiesce()
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, p := range s.pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if s.cleaner != nil {
		s.cleaner.Stop()
	}
	for _, q := range s.queues {
		if err := q.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", q.Name(), err))
		}
	}
	return errors.Join(errs...)
}
